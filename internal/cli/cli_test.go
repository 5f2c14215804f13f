package cli

import (
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/ppiankov/veritas/internal/model"
)

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("VERITAS_TRAINING_EPOCHS", "7")
	t.Setenv("VERITAS_MODEL_SELECTOR", "cosine")

	cfgFile = t.TempDir() + "/missing.yaml"
	t.Cleanup(func() { cfgFile = "" })
	initConfig()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Training.Epochs != 7 || cfg.Model.Selector != "cosine" {
		t.Errorf("env not applied: epochs=%d selector=%s", cfg.Training.Epochs, cfg.Model.Selector)
	}
	if cfg.Data.MaxSentences != model.DefaultConfig().Data.MaxSentences {
		t.Errorf("defaults lost: %+v", cfg.Data)
	}
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("VERITAS_MODEL_SENTENCE_THRESHOLD", "1.5")

	cfgFile = t.TempDir() + "/missing.yaml"
	t.Cleanup(func() { cfgFile = "" })
	initConfig()

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFormatVector(t *testing.T) {
	if got := formatVector([]float64{1, 0.5, -2.25}); got != "1 0.5 -2.25" {
		t.Errorf("formatVector = %q", got)
	}
}

func TestRootHelp_NamesLabels(t *testing.T) {
	for _, name := range model.LabelNames {
		if !strings.Contains(rootCmd.Long, name) {
			t.Errorf("root help should name label %q", name)
		}
	}
}
