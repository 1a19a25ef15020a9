package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dentaliq/api/internal/config"
	"github.com/dentaliq/api/internal/domain/chat"
	"github.com/dentaliq/api/internal/domain/patient"
	"github.com/dentaliq/api/internal/platform/auth"
	"github.com/dentaliq/api/internal/platform/db"
)

var demoPatients = []patient.CreateInput{
	{Name: "Priya Nair", Email: ptr("priya@example.com"), Phone: ptr("+91 98765 43210"), DOB: ptr("1990-05-12"),
		MedicalNotes: ptr("Mild sensitivity to cold. Regular cleanings. No allergies.")},
	{Name: "Arjun Mehta", Email: ptr("arjun@example.com"), Phone: ptr("+91 88001 23456"), DOB: ptr("1972-09-03"),
		MedicalNotes: ptr("History of root canal on tooth #19. Crown pending. Diabetic, monitor healing.")},
	{Name: "Sunita Rao", Email: ptr("sunita@example.com"), Phone: ptr("+91 77891 00011"), DOB: ptr("1997-01-19"),
		MedicalNotes: ptr("Good oral hygiene. Recent whitening. Minor gum recession observed.")},
	{Name: "Vikram Singh", Email: ptr("vikram@example.com"), Phone: ptr("+91 90001 55567"), DOB: ptr("1980-12-07"),
		MedicalNotes: ptr("Heavy smoker. Periodontal risk. Missed last two follow-up appointments.")},
	{Name: "Meena Krishnan", Email: ptr("meena@example.com"), Phone: ptr("+91 81234 56789"), DOB: ptr("1964-03-25"),
		MedicalNotes: ptr("Partial denture lower jaw. Mild periodontitis, on Chlorhexidine. Arthritis limits manual brushing.")},
}

var demoExchange = [2]string{
	"What are good home care tips for someone with mild gum sensitivity?",
	"For mild gum sensitivity, I recommend: use a soft-bristled toothbrush with gentle circular motions, " +
		"switch to a sensitivity-formula toothpaste with potassium nitrate or stannous fluoride, " +
		"avoid acidic foods and drinks for 30 minutes after brushing, and rinse with an alcohol-free fluoride mouthwash. " +
		"Careful daily flossing also reduces gum sensitivity over time by improving gum health.",
}

func ptr(s string) *string { return &s }

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo patients and a sample conversation (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return fmt.Errorf("seed only runs with ENV=development")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			return seed(ctx, pool, cmd.OutOrStdout())
		},
	}
}

// seed inserts the demo data in one transaction. It does nothing when
// patients already exist.
func seed(ctx context.Context, pool *pgxpool.Pool, out io.Writer) error {
	patients := patient.NewRepo(pool)
	svc := patient.NewService(patients)
	turns := chat.NewTurnRepo(pool)

	return db.WithTx(ctx, pool, func(ctx context.Context) error {
		_, total, err := patients.List(ctx, patient.ListFilter{}, 1, 0)
		if err != nil {
			return err
		}
		if total > 0 {
			fmt.Fprintf(out, "Database already has %d patient(s); skipping seed.\n", total)
			return nil
		}

		staff := auth.DevUserID
		var first *patient.Patient
		for _, in := range demoPatients {
			p, err := svc.CreatePatient(ctx, in, &staff)
			if err != nil {
				return fmt.Errorf("seed patient %s: %w", in.Name, err)
			}
			if first == nil {
				first = p
			}
		}

		if _, err := turns.Append(ctx, first.ID, chat.Human{StaffID: staff}, demoExchange[0]); err != nil {
			return fmt.Errorf("seed chat: %w", err)
		}
		if _, err := turns.Append(ctx, first.ID, chat.Assistant{}, demoExchange[1]); err != nil {
			return fmt.Errorf("seed chat: %w", err)
		}

		fmt.Fprintf(out, "Seeded %d patients and a sample conversation for %s.\n", len(demoPatients), first.Name)
		return nil
	})
}
