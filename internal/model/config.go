package model

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the complete veritas configuration.
// Field tags serve both yaml.v3 (config show/init) and viper (mapstructure).
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Model     NetworkConfig   `yaml:"model" mapstructure:"model"`
	Training  TrainingConfig  `yaml:"training" mapstructure:"training"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Runtime   RuntimeConfig   `yaml:"runtime" mapstructure:"runtime"`
}

// EmbeddingConfig locates the pretrained vectors and their on-disk cache.
type EmbeddingConfig struct {
	Source      string `yaml:"source" mapstructure:"source"`             // word2vec file (binary or text, optionally gzipped)
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`       // holds embed.dat and embed.vocab
	VocabSize   int    `yaml:"vocab_size" mapstructure:"vocab_size"`     // 0 = take from source/cache
	Dim         int    `yaml:"dim" mapstructure:"dim"`                   // 0 = take from source/cache
	UnknownWord string `yaml:"unknown_word" mapstructure:"unknown_word"` // fallback entry for OOV words
	Trainable   bool   `yaml:"trainable" mapstructure:"trainable"`       // fine-tune the embedding matrix
}

// NetworkConfig shapes the selection and classification networks.
type NetworkConfig struct {
	NumUnits          int       `yaml:"num_units" mapstructure:"num_units"`     // selection-stage BiLSTM width
	NumNeurons        []int     `yaml:"num_neurons" mapstructure:"num_neurons"` // [encode, compose, hidden...]
	LSTMLayers        int       `yaml:"lstm_layers" mapstructure:"lstm_layers"`
	SharedRNN         bool      `yaml:"shared_rnn" mapstructure:"shared_rnn"`
	Activation        string    `yaml:"activation" mapstructure:"activation"`
	Initializer       string    `yaml:"initializer" mapstructure:"initializer"`
	Dropout           float64   `yaml:"dropout" mapstructure:"dropout"` // 0 disables dropout
	NOutputs          int       `yaml:"n_outputs" mapstructure:"n_outputs"`
	ClassWeights      []float64 `yaml:"class_weights,omitempty" mapstructure:"class_weights"`
	Selector          string    `yaml:"selector" mapstructure:"selector"` // mlp, projection, cosine
	SelectorHidden    int       `yaml:"selector_hidden" mapstructure:"selector_hidden"`
	ProjectionSize    int       `yaml:"projection_size" mapstructure:"projection_size"`
	SentenceThreshold float64   `yaml:"sentence_threshold" mapstructure:"sentence_threshold"`
}

// TrainingConfig drives the training loop.
type TrainingConfig struct {
	Checkpoint   string  `yaml:"checkpoint" mapstructure:"checkpoint"` // path prefix
	Optimizer    string  `yaml:"optimizer" mapstructure:"optimizer"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	Epochs       int     `yaml:"epochs" mapstructure:"epochs"`
	Patience     int     `yaml:"patience" mapstructure:"patience"`
	ShowProgress int     `yaml:"show_progress" mapstructure:"show_progress"` // epochs between progress lines
	LogDir       string  `yaml:"log_dir,omitempty" mapstructure:"log_dir"`
	Seed         int64   `yaml:"seed" mapstructure:"seed"`
}

// DataConfig bounds the encoded examples.
type DataConfig struct {
	MaxSentences int `yaml:"max_sentences" mapstructure:"max_sentences"`
	HMaxLength   int `yaml:"h_max_length" mapstructure:"h_max_length"`
	SMaxLength   int `yaml:"s_max_length" mapstructure:"s_max_length"`
}

// RuntimeConfig bounds the compute session.
type RuntimeConfig struct {
	Workers           int     `yaml:"workers" mapstructure:"workers"` // 0 = physical cores
	MaxMemoryFraction float64 `yaml:"max_memory_fraction" mapstructure:"max_memory_fraction"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			CacheDir:    "embeddings",
			UnknownWord: "unknown",
		},
		Model: NetworkConfig{
			NumUnits:          128,
			NumNeurons:        []int{128, 128, 32},
			LSTMLayers:        1,
			SharedRNN:         true,
			Activation:        "relu",
			Initializer:       "he",
			NOutputs:          NumLabels,
			Selector:          "mlp",
			SelectorHidden:    256,
			ProjectionSize:    100,
			SentenceThreshold: 0.7,
		},
		Training: TrainingConfig{
			Checkpoint:   "model/esim",
			Optimizer:    "adam",
			LearningRate: 0.001,
			BatchSize:    128,
			Epochs:       100,
			Patience:     10,
			ShowProgress: 1,
			Seed:         42,
		},
		Data: DataConfig{
			MaxSentences: 5,
			HMaxLength:   50,
			SMaxLength:   50,
		},
		Runtime: RuntimeConfig{
			MaxMemoryFraction: 0.5,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	m := c.Model
	if m.NumUnits <= 0 {
		bad("model.num_units must be positive, got %d", m.NumUnits)
	}
	if len(m.NumNeurons) < 2 {
		bad("model.num_neurons needs at least the encode and compose sizes, got %v", m.NumNeurons)
	}
	for i, n := range m.NumNeurons {
		if n <= 0 {
			bad("model.num_neurons[%d] must be positive, got %d", i, n)
		}
	}
	if m.LSTMLayers < 1 {
		bad("model.lstm_layers must be at least 1, got %d", m.LSTMLayers)
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		bad("model.dropout must be in [0, 1), got %g", m.Dropout)
	}
	if m.NOutputs < 2 || m.NOutputs > len(LabelNames) {
		bad("model.n_outputs must be in [2, %d], got %d", len(LabelNames), m.NOutputs)
	}
	if len(m.ClassWeights) > 0 && len(m.ClassWeights) != m.NOutputs {
		bad("model.class_weights has %d entries, want %d", len(m.ClassWeights), m.NOutputs)
	}
	switch strings.ToLower(m.Selector) {
	case "mlp", "projection", "cosine":
	default:
		bad("model.selector %q is not one of mlp, projection, cosine", m.Selector)
	}
	if m.SelectorHidden <= 0 || m.ProjectionSize <= 0 {
		bad("model.selector_hidden and model.projection_size must be positive")
	}
	if m.SentenceThreshold <= 0 || m.SentenceThreshold >= 1 {
		bad("model.sentence_threshold must be in (0, 1), got %g", m.SentenceThreshold)
	}

	tr := c.Training
	switch strings.ToLower(tr.Optimizer) {
	case "adam", "adagrad", "sgd":
	default:
		bad("training.optimizer %q is not one of adam, adagrad, sgd", tr.Optimizer)
	}
	if tr.LearningRate <= 0 {
		bad("training.learning_rate must be positive, got %g", tr.LearningRate)
	}
	if tr.BatchSize <= 0 {
		bad("training.batch_size must be positive, got %d", tr.BatchSize)
	}
	if tr.Epochs <= 0 {
		bad("training.epochs must be positive, got %d", tr.Epochs)
	}
	if tr.Patience <= 0 {
		bad("training.patience must be positive, got %d", tr.Patience)
	}
	if tr.Checkpoint == "" {
		bad("training.checkpoint must be set")
	}

	d := c.Data
	if d.MaxSentences <= 0 || d.HMaxLength <= 0 || d.SMaxLength <= 0 {
		bad("data.max_sentences, data.h_max_length and data.s_max_length must be positive")
	}

	if f := c.Runtime.MaxMemoryFraction; f < 0 || f > 1 {
		bad("runtime.max_memory_fraction must be in [0, 1], got %g", f)
	}
	if c.Runtime.Workers < 0 {
		bad("runtime.workers must not be negative, got %d", c.Runtime.Workers)
	}

	return errors.Join(errs...)
}

// HiddenLayers returns the classifier hidden layer sizes.
func (m NetworkConfig) HiddenLayers() []int {
	if len(m.NumNeurons) <= 2 {
		return nil
	}
	return m.NumNeurons[2:]
}

// ClassWeight returns the loss weight of class y (1 when unweighted).
func (m NetworkConfig) ClassWeight(y int) float64 {
	if y < 0 || y >= len(m.ClassWeights) {
		return 1
	}
	return m.ClassWeights[y]
}
