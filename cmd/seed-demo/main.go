// seed-demo creates a demo tenant with one pipeline, its stages, a handful of
// accounts and deals spread across the stages. Intended for local development
// and UI demos; running it twice against the same business id is a no-op for
// the pipeline (duplicate name) and exits early.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-demo
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
	"github.com/mmdatafocus/crm_backend/models"
	"github.com/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

const demoBusinessId = "demo-business"

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	models.MigrateTable()

	businessId := os.Getenv("SEED_BUSINESS_ID")
	if businessId == "" {
		businessId = demoBusinessId
	}
	ctx = utils.SetBusinessIdInContext(ctx, businessId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")

	pipeline, err := models.CreatePipeline(ctx, &models.NewPipeline{
		Name:              "New Business",
		StaleWarningDays:  30,
		StaleCriticalDays: 60,
	})
	if err != nil {
		if utils.IsValidationError(err) {
			fmt.Println("demo pipeline already exists; nothing to do")
			return
		}
		fmt.Fprintf(os.Stderr, "failed to create pipeline: %v\n", err)
		os.Exit(1)
	}

	type stageSpec struct {
		name        string
		order       int
		stageType   models.StageType
		probability int64
		rottingDays int
		category    models.ForecastCategory
	}
	specs := []stageSpec{
		{"Qualification", 1, models.StageTypeOpen, 10, 14, models.ForecastCategoryPipeline},
		{"Discovery", 2, models.StageTypeOpen, 25, 21, models.ForecastCategoryPipeline},
		{"Proposal", 3, models.StageTypeOpen, 50, 30, models.ForecastCategoryBestCase},
		{"Negotiation", 4, models.StageTypeOpen, 75, 30, models.ForecastCategoryCommit},
		{"Closed Won", 5, models.StageTypeWon, 100, 0, models.ForecastCategoryClosed},
		{"Closed Lost", 6, models.StageTypeLost, 0, 0, models.ForecastCategoryClosed},
	}

	stages := make(map[string]*models.Stage, len(specs))
	for _, s := range specs {
		input := models.NewStage{
			PipelineId:       pipeline.ID,
			Name:             s.name,
			StageOrder:       s.order,
			StageType:        s.stageType,
			Probability:      decimal.NewFromInt(s.probability),
			ForecastCategory: s.category,
		}
		if s.rottingDays > 0 {
			days := s.rottingDays
			input.RottingDays = &days
		}
		stage, err := models.CreateStage(ctx, &input)
		utils.ErrorPanic(err)
		stages[s.name] = stage
	}

	accounts := make([]*models.Account, 0, 3)
	for _, name := range []string{"Acme Corporation", "Globex Trading", "Initech Solutions"} {
		account, err := models.CreateAccount(ctx, &models.NewAccount{Name: name, OwnerId: 1})
		utils.ErrorPanic(err)
		accounts = append(accounts, account)
	}

	closeDate := time.Now().UTC().AddDate(0, 1, 0)
	deals := []struct {
		name    string
		stage   string
		value   int64
		owner   int
		account int
	}{
		{"Acme annual license", "Qualification", 25000, 1, accounts[0].ID},
		{"Acme onboarding services", "Discovery", 8000, 2, accounts[0].ID},
		{"Globex platform rollout", "Proposal", 60000, 1, accounts[1].ID},
		{"Globex support renewal", "Negotiation", 15000, 2, accounts[1].ID},
		{"Initech pilot", "Qualification", 5000, 1, accounts[2].ID},
	}
	for _, d := range deals {
		_, err := models.CreateDeal(ctx, &models.NewDeal{
			PipelineId:        pipeline.ID,
			StageId:           stages[d.stage].ID,
			Name:              d.name,
			Value:             decimal.NewFromInt(d.value),
			ExpectedCloseDate: &closeDate,
			OwnerId:           d.owner,
			AccountId:         d.account,
		})
		utils.ErrorPanic(err)
	}

	fmt.Printf("Seeded business %q: pipeline %d, %d stages, %d accounts, %d deals\n",
		businessId, pipeline.ID, len(specs), len(accounts), len(deals))
}
