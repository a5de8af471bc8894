package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-s2s/internal/bundle"
	"github.com/23skdu/longbow-s2s/internal/config"
	"github.com/23skdu/longbow-s2s/internal/entity"
	"github.com/23skdu/longbow-s2s/internal/flightmodel"
	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/model"
	"github.com/23skdu/longbow-s2s/internal/vocab"
)

// Model is a connected encoder/decoder pair.
type Model interface {
	model.Encoder
	model.Decoder
	Close() error
}

// Dialer connects to the model served under name.
type Dialer func(ctx context.Context, name string, cfg config.ModelConfig) (Model, error)

// DialFlight connects over Arrow Flight and checks the served model has the
// configured dimensions.
func DialFlight(ctx context.Context, name string, cfg config.ModelConfig) (Model, error) {
	c, err := flightmodel.Dial(flightmodel.ClientConfig{
		Addr:           cfg.FlightAddr,
		Model:          name,
		Timeout:        cfg.CallTimeout(),
		MaxMessageSize: cfg.MaxMessageSizeMiB << 20,
	})
	if err != nil {
		return nil, err
	}

	info, err := c.Ping(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	want := flightmodel.Info{
		LatentDim:     cfg.LatentDim,
		EncoderTokens: cfg.NumEncoderTokens,
		DecoderTokens: cfg.NumDecoderTokens,
	}
	if info != want {
		c.Close()
		return nil, fmt.Errorf("model %s serves latent=%d encoder=%d decoder=%d, configured latent=%d encoder=%d decoder=%d",
			name, info.LatentDim, info.EncoderTokens, info.DecoderTokens,
			want.LatentDim, want.EncoderTokens, want.DecoderTokens)
	}
	return c, nil
}

// Load builds a Translator from configuration. Every failure to obtain a
// token index, the entity list or the model wraps ErrMissingResource.
func Load(ctx context.Context, cfg config.Config, dial Dialer) (*Translator, error) {
	log := logger.Log.Component("pipeline")
	if dial == nil {
		dial = DialFlight
	}

	paths := cfg.Resources
	name := cfg.Model.Name
	if paths.Bundle != "" {
		b, err := bundle.Resolve(paths.Bundle)
		if err != nil {
			return nil, missing("bundle", err)
		}
		if err := fromBundle(b, &paths, &name); err != nil {
			return nil, missing("bundle", err)
		}
		log.Info("resolved bundle", "ref", paths.Bundle, "dir", b.Dir, "model", name)
	}

	in, err := vocab.Load(paths.InputTokenIndex)
	if err != nil {
		return nil, missing("input token index", err)
	}
	target, err := vocab.Load(paths.TargetTokenIndex)
	if err != nil {
		return nil, missing("target token index", err)
	}
	if in.Size() != cfg.Model.NumEncoderTokens {
		return nil, missing("input token index", fmt.Errorf("%w: %d entries, configured num_encoder_tokens=%d",
			vocab.ErrInvalidIndex, in.Size(), cfg.Model.NumEncoderTokens))
	}
	if target.Size() != cfg.Model.NumDecoderTokens {
		return nil, missing("target token index", fmt.Errorf("%w: %d entries, configured num_decoder_tokens=%d",
			vocab.ErrInvalidIndex, target.Size(), cfg.Model.NumDecoderTokens))
	}

	dict, err := entity.LoadDictionary(paths.Entities)
	if err != nil {
		return nil, missing("entity list", err)
	}

	m, err := dial(ctx, name, cfg.Model)
	if err != nil {
		return nil, missing("model "+name, err)
	}

	t, err := New(Resources{
		InputIndex:  in,
		TargetIndex: target,
		Entities:    dict,
		Encoder:     m,
		Decoder:     m,
		Limits: Limits{
			MaxEncoderLen: cfg.Model.MaxEncoderSeqLen,
			MaxDecoderLen: cfg.Model.MaxDecoderSeqLen,
			LatentDim:     cfg.Model.LatentDim,
			Start:         cfg.Model.Start(),
			Stop:          cfg.Model.Stop(),
		},
	})
	if err != nil {
		m.Close()
		return nil, err
	}
	t.closeFn = m.Close

	log.Info("translator ready", "model", name, "input_tokens", in.Size(),
		"target_tokens", target.Size(), "entities", dict.Len())
	return t, nil
}

// fromBundle replaces the configured paths with the layers b provides.
func fromBundle(b *bundle.Bundle, paths *config.ResourceConfig, name *string) error {
	layers := []struct {
		mediaType string
		dst       *string
	}{
		{bundle.MediaTypeInputIndex, &paths.InputTokenIndex},
		{bundle.MediaTypeTargetIndex, &paths.TargetTokenIndex},
		{bundle.MediaTypeEntities, &paths.Entities},
	}
	for _, l := range layers {
		if _, ok := b.Layer(l.mediaType); !ok {
			continue
		}
		p, err := b.Path(l.mediaType)
		if err != nil {
			return err
		}
		*l.dst = p
	}
	if _, ok := b.Layer(bundle.MediaTypeModel); ok {
		n, err := b.ModelName()
		if err != nil {
			return err
		}
		*name = n
	}
	return nil
}

func missing(what string, err error) error {
	if errors.Is(err, ErrMissingResource) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrMissingResource, what, err)
}
