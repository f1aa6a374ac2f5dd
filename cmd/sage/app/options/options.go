// Package options contains flags and options for initializing the sage server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	sagesvc "github.com/kart-io/sage/internal/sage"
	cliflag "github.com/kart-io/sage/pkg/app/cliflag"
	llmopts "github.com/kart-io/sage/pkg/options/llm"
	logopts "github.com/kart-io/sage/pkg/options/logger"
	milvusopts "github.com/kart-io/sage/pkg/options/milvus"
	redisopts "github.com/kart-io/sage/pkg/options/redis"
	sageopts "github.com/kart-io/sage/pkg/options/sage"
	httpopts "github.com/kart-io/sage/pkg/options/server/http"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MilvusOptions is used when sage.vector-backend is milvus.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// RedisOptions is used by the embedding cache and the redis profile backend.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// SageOptions contains the knowledge base and recommendation settings.
	SageOptions *sageopts.Options `json:"sage" mapstructure:"sage"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		SageOptions:      sageopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.ChatOptions.AddFlags(fss.FlagSet("chat"), "chat")
	o.SageOptions.AddFlags(fss.FlagSet("sage"))

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.HTTPOptions.Complete(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := o.LogOptions.Complete(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.SageOptions.Complete(); err != nil {
		return fmt.Errorf("sage: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
// Backend option groups are only validated when selected.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, prefixed("embedding", o.EmbeddingOptions.Validate())...)
	errs = append(errs, prefixed("chat", o.ChatOptions.Validate())...)
	errs = append(errs, o.SageOptions.Validate()...)

	if o.SageOptions.VectorBackend == sageopts.VectorBackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	if o.SageOptions.NeedsRedis() {
		errs = append(errs, o.RedisOptions.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

func prefixed(section string, errs []error) []error {
	out := make([]error, len(errs))
	for i, err := range errs {
		out[i] = fmt.Errorf("%s: %w", section, err)
	}
	return out
}

// Config builds a sagesvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*sagesvc.Config, error) {
	return &sagesvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		MilvusOptions:    o.MilvusOptions,
		RedisOptions:     o.RedisOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		SageOptions:      o.SageOptions,
	}, nil
}
