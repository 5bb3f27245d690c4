// Seeds the Bookings and Users worksheets from a YAML fixture. Meant for
// setting up a fresh spreadsheet or a demo environment; existing rows are
// left in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/google"
	"commonroom/internal/models"
	"commonroom/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type fixture struct {
	Users []struct {
		Phone     string `yaml:"phone"`
		FullName  string `yaml:"full_name"`
		Apartment string `yaml:"apartment"`
		Role      string `yaml:"role"`
		Status    string `yaml:"status"`
	} `yaml:"users"`
	Bookings []struct {
		Phone     string `yaml:"phone"`
		Name      string `yaml:"name"`
		Apartment string `yaml:"apartment"`
		Date      string `yaml:"date"`
		Start     string `yaml:"start"`
		End       string `yaml:"end"`
		Status    string `yaml:"status"`
	} `yaml:"bookings"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		dataPath   = flag.String("data", "configs/seed.yaml", "path to seed fixture")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw, err := os.ReadFile(*dataPath)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	var fix fixture
	if err := yaml.Unmarshal(raw, &fix); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := google.NewSheetsStore(ctx, cfg.Google)
	if err != nil {
		return fmt.Errorf("init sheets store: %w", err)
	}
	if err := st.TestConnection(ctx); err != nil {
		return err
	}

	for _, u := range fix.Users {
		status := u.Status
		if status == "" {
			status = string(models.StatusActive)
		}
		user := models.User{
			Phone:     u.Phone,
			FullName:  u.FullName,
			Apartment: u.Apartment,
			Role:      u.Role,
			Status:    models.Status(status),
		}
		if err := st.Append(ctx, service.TableUsers, user.Row()); err != nil {
			return fmt.Errorf("append user %s: %w", u.Phone, err)
		}
		logger.Info().Str("apartment", u.Apartment).Msg("seeded user")
	}

	for _, row := range fix.Bookings {
		date, err := time.ParseInLocation(models.DateFmt, row.Date, time.Local)
		if err != nil {
			return fmt.Errorf("booking date %q: %w", row.Date, err)
		}
		start, err := models.ParseClock(row.Start)
		if err != nil {
			return fmt.Errorf("booking start %q: %w", row.Start, err)
		}
		end, err := models.ParseClock(row.End)
		if err != nil {
			return fmt.Errorf("booking end %q: %w", row.End, err)
		}
		status := row.Status
		if status == "" {
			status = string(models.StatusApproved)
		}

		b := models.Booking{
			ID:             uuid.NewString()[:8],
			RequesterPhone: row.Phone,
			DisplayName:    row.Name,
			Date:           date,
			Start:          start,
			End:            end,
			Status:         models.Status(status),
			Apartment:      row.Apartment,
		}
		if err := st.Append(ctx, service.TableBookings, b.Row()); err != nil {
			return fmt.Errorf("append booking %s: %w", b.ID, err)
		}
		logger.Info().Str("booking_id", b.ID).Str("date", row.Date).Msg("seeded booking")
	}

	logger.Info().Int("users", len(fix.Users)).Int("bookings", len(fix.Bookings)).Msg("seed complete")
	return nil
}
