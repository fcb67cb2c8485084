// Command seed-exam loads an exam version document into PostgreSQL together
// with a room, a proctor and registered students, and prints a session token
// for each of them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/hourglass/internal/config"
	"github.com/stemsi/hourglass/internal/database"
	"github.com/stemsi/hourglass/internal/logger"
	"github.com/stemsi/hourglass/internal/model"
	"github.com/stemsi/hourglass/internal/repository"
	"github.com/stemsi/hourglass/internal/service"
)

func main() {
	var (
		contentPath string
		name        string
		duration    int
		window      time.Duration
		room        string
		proctor     string
		students    string
		policies    string
		stretch     string
	)
	flag.StringVar(&contentPath, "content", "", "Path to the exam version JSON document")
	flag.StringVar(&name, "name", "Practice exam", "Exam name")
	flag.IntVar(&duration, "duration", 90, "Attempt length in minutes")
	flag.DurationVar(&window, "window", 4*time.Hour, "How long the exam stays open from now")
	flag.StringVar(&room, "room", "Main hall", "Room the students sit in")
	flag.StringVar(&proctor, "proctor", "proctor", "Username of the proctor")
	flag.StringVar(&students, "students", "student1,student2,student3", "Comma-separated student usernames")
	flag.StringVar(&policies, "policies", "", "Comma-separated lockdown policies (IGNORE_LOCKDOWN, TOLERATE_WINDOWED)")
	flag.StringVar(&stretch, "stretch", "", "Comma-separated username=percent time accommodations")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if contentPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: seed-exam -content exam.json [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	raw, err := os.ReadFile(contentPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", contentPath).Msg("Failed to read content")
	}
	var content model.ExamVersionContent
	if err := json.Unmarshal(raw, &content); err != nil {
		log.Fatal().Err(err).Msg("Content is not a valid exam version document")
	}
	if len(content.Questions) == 0 {
		log.Fatal().Msg("Content has no questions")
	}

	accommodations, err := parseStretch(stretch)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -stretch")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	registrationRepo := repository.NewRegistrationRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	fmt.Println("=== Seeding exam ===")

	now := time.Now()
	exam := &model.Exam{
		Name:            name,
		DurationMinutes: duration,
		StartTime:       now,
		EndTime:         now.Add(window),
		Policies:        parsePolicies(policies),
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	version := &model.ExamVersion{ExamID: exam.ID, Name: "v1", Content: content}
	if err := examRepo.CreateVersion(ctx, version); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam version")
	}
	roomID, err := examRepo.CreateRoom(ctx, exam.ID, room)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create room")
	}
	fmt.Printf("Exam %s (%q), version %d, room %d\n", exam.ID, exam.Name, version.ID, roomID)

	proctorID, err := userRepo.Upsert(ctx, proctor, proctor, string(service.RoleProctor))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create proctor")
	}
	proctorToken, err := authService.GenerateToken(proctorID, service.RoleProctor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign proctor token")
	}
	fmt.Printf("\nproctor %-16s %s\n\n", proctor, proctorToken)

	successCount := 0
	usernames := splitList(students)
	for _, username := range usernames {
		userID, err := userRepo.Upsert(ctx, username, username, string(service.RoleStudent))
		if err != nil {
			fmt.Printf("Error creating student %s: %v\n", username, err)
			continue
		}
		reg := &model.Registration{UserID: userID, ExamID: exam.ID, ExamVersionID: version.ID, RoomID: &roomID}
		if err := registrationRepo.Create(ctx, reg); err != nil {
			fmt.Printf("Error registering student %s: %v\n", username, err)
			continue
		}
		if pct, ok := accommodations[username]; ok {
			acc := &model.Accommodation{RegistrationID: reg.ID, PercentTimeExpansion: pct}
			if err := registrationRepo.UpsertAccommodation(ctx, acc); err != nil {
				fmt.Printf("Error saving accommodation for %s: %v\n", username, err)
			}
		}
		token, err := authService.GenerateToken(userID, service.RoleStudent)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign student token")
		}
		fmt.Printf("student %-16s %s\n", username, token)
		successCount++
	}

	fmt.Printf("\nSeed completed! Registered %d/%d students.\n", successCount, len(usernames))
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePolicies(raw string) []model.Policy {
	policies := make([]model.Policy, 0)
	for _, p := range splitList(raw) {
		policies = append(policies, model.Policy(strings.ToUpper(p)))
	}
	return policies
}

func parseStretch(raw string) (map[string]int, error) {
	out := make(map[string]int)
	for _, item := range splitList(raw) {
		var pct int
		user, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not username=percent", item)
		}
		if _, err := fmt.Sscanf(value, "%d", &pct); err != nil || pct < 0 {
			return nil, fmt.Errorf("%q has an invalid percentage", item)
		}
		out[user] = pct
	}
	return out, nil
}
