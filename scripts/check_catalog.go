package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"marketbook/internal/catalog"
	"marketbook/internal/database"
	"marketbook/internal/models"

	"github.com/rs/zerolog"
)

// problem is a stored booking the catalog can no longer serve.
type problem struct {
	BookingID string
	Status    models.BookingStatus
	Detail    string
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
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "", "path to sqlite db; empty validates the catalog only")
	)
	flag.Parse()

	cat, err := catalog.Load(*catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info().Int("resources", cat.Len()).Str("catalog", *catalogPath).Msg("catalog is valid")

	if *dbPath == "" {
		return nil
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bookings, err := db.ListBookings(ctx, false)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	failed, err := db.GetFailedOutbox(ctx)
	if err != nil {
		return fmt.Errorf("list failed outbox: %w", err)
	}
	if len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("outbox has undelivered feed events")
	}

	problems := checkBookings(cat, bookings)
	blocking := 0
	for _, p := range problems {
		ev := logger.Warn()
		if !p.Status.IsTerminal() {
			ev = logger.Error()
			blocking++
		}
		ev.Str("booking_id", p.BookingID).Str("status", string(p.Status)).Msg(p.Detail)
	}

	logger.Info().
		Int("bookings", len(bookings)).
		Int("problems", len(problems)).
		Int("blocking", blocking).
		Msg("check finished")

	if blocking > 0 {
		return fmt.Errorf("%d live bookings reference resources the catalog cannot serve", blocking)
	}
	return nil
}

func checkBookings(cat *catalog.Catalog, bookings []*models.Booking) []problem {
	var out []problem
	for _, b := range bookings {
		res, ok := cat.Resource(b.Request.ResourceID)
		switch {
		case !ok:
			out = append(out, problem{b.ID, b.Status, fmt.Sprintf("resource %q is not in the catalog", b.Request.ResourceID)})
		case res.VendorID != b.Request.VendorID:
			out = append(out, problem{b.ID, b.Status, fmt.Sprintf("resource %q moved from vendor %q to %q", res.ID, b.Request.VendorID, res.VendorID)})
		}
	}
	return out
}
