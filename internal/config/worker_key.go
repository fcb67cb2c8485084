package config

type WorkerKeyStruct struct {
	PersistSnapshotsQueue string
	PersistAnomaliesQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSnapshotsQueue: "persist_snapshots_queue",
	PersistAnomaliesQueue: "persist_anomalies_queue",
}
