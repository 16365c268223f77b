package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/evidence"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
)

func TestApplyEnv(t *testing.T) {
	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("HERON_PORT", "9090")
		t.Setenv("HERON_DB_PATH", "/tmp/heron-test.db")
		t.Setenv("HERON_ALERT_THRESHOLD", "60")
		t.Setenv("HERON_JWT_SECRET", "secret")
		t.Setenv("HERON_MONITOR", "false")

		cfg := domain.DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			t.Fatalf("applyEnv failed: %v", err)
		}
		if cfg.Server.Port != 9090 || cfg.Repository.SQLitePath != "/tmp/heron-test.db" {
			t.Errorf("unexpected server/repository config: %+v %+v", cfg.Server, cfg.Repository)
		}
		if cfg.Risk.AlertThreshold != 60 || cfg.Risk.MonitorTransactions {
			t.Errorf("unexpected risk config: %+v", cfg.Risk)
		}
		if authMode(cfg.Auth) != "jwt" {
			t.Error("expected jwt actor auth")
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		t.Setenv("HERON_ALERT_THRESHOLD", "120")
		if err := applyEnv(domain.DefaultConfig()); err == nil {
			t.Error("expected error for threshold above 100")
		}
	})

	t.Run("InvalidPort", func(t *testing.T) {
		t.Setenv("HERON_PORT", "eighty")
		if err := applyEnv(domain.DefaultConfig()); err == nil {
			t.Error("expected error for non-numeric port")
		}
	})
}

func TestSeedRules(t *testing.T) {
	ctx := context.Background()
	seed := filepath.Join(t.TempDir(), "rules.yaml")
	data := []byte(`rules:
  - ruleId: KYC-PEP
    ruleName: Politically exposed person
    category: kyc
    riskScore: 30
    expression: evidence.is_pep == true
  - ruleId: TX-LARGE
    ruleName: Large transfer
    category: transaction
    riskScore: 20
    expression: evidence.amount > 10000.0
`)
	if err := os.WriteFile(seed, data, 0o600); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	repo := repository.NewMemoryRepository()
	catalog, err := rules.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	// A rule edited through the API survives a restart with the seed.
	if err := repo.SaveRule(ctx, &domain.Rule{ID: "r-1", RuleID: "KYC-PEP", RuleName: "PEP (tuned)", Category: domain.CategoryKYC, RiskScore: 45, Enabled: true}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	if err := seedRules(ctx, repo, catalog, seed); err != nil {
		t.Fatalf("seedRules failed: %v", err)
	}
	if catalog.Count() != 2 {
		t.Fatalf("expected 2 rules, got %d", catalog.Count())
	}
	pep, _ := catalog.GetRule("KYC-PEP")
	if pep.RiskScore != 45 {
		t.Errorf("expected stored rule to win over seed, got score %d", pep.RiskScore)
	}

	t.Run("MissingFile", func(t *testing.T) {
		if err := seedRules(ctx, repo, catalog, filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
			t.Errorf("missing seed file should not fail startup: %v", err)
		}
	})
}

func TestShippedSeedCompiles(t *testing.T) {
	seeded, err := rules.LoadSeedFile(filepath.Join("..", "..", defaultSeedFile))
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}
	catalog, err := rules.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if err := catalog.Load(seeded); err != nil {
		t.Fatalf("shipped seed does not load: %v", err)
	}
	if catalog.Count() != len(seeded) || len(catalog.Triggers()) != len(seeded)-1 {
		t.Errorf("expected every rule but the trigger-only one to compile, got %d of %d", len(catalog.Triggers()), len(seeded))
	}
}

func TestShippedSeedOnSubjectEvidence(t *testing.T) {
	ctx := context.Background()
	seeded, err := rules.LoadSeedFile(filepath.Join("..", "..", defaultSeedFile))
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}
	catalog, err := rules.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if err := catalog.Load(seeded); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	repo := repository.NewMemoryRepository()
	if err := repo.CreateSubject(ctx, &domain.Subject{ID: "sub-1", Name: "Exposed", KYCStatus: domain.KYCPending, IsPEP: true}); err != nil {
		t.Fatalf("CreateSubject failed: %v", err)
	}
	builder := evidence.NewBuilder(repo, evidence.OptionsFromConfig(domain.DefaultConfig().Risk))
	evaluator := risk.NewEvaluator(catalog)

	tests := []struct {
		category domain.RuleCategory
		want     []string
	}{
		{"", []string{"KYC-PEP", "KYC-INCOMPLETE"}},
		{domain.CategoryKYC, []string{"KYC-PEP", "KYC-INCOMPLETE"}},
		{domain.CategoryTransaction, nil},
		{domain.CategoryBehavioral, nil},
	}
	for _, tt := range tests {
		t.Run("category="+string(tt.category), func(t *testing.T) {
			ev, err := builder.ForSubject(ctx, "sub-1")
			if err != nil {
				t.Fatalf("ForSubject failed: %v", err)
			}
			ev.Category = tt.category

			result, err := evaluator.Evaluate(ctx, ev, catalog.Triggers())
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			var got []string
			for _, m := range result.MatchedRules {
				got = append(got, m.RuleID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected matches %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected matches %v, got %v", tt.want, got)
				}
			}
		})
	}
}
