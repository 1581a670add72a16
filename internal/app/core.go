package app

import (
	"multiposter/internal/activity"
	"multiposter/internal/config"
	"multiposter/internal/content"
	"multiposter/internal/credential"
	"multiposter/internal/graph"
	logx "multiposter/pkg/logx"
)

// Core is the posting pipeline without any control surface. The one-shot
// CLI commands use it directly.
type Core struct {
	Activity  *activity.Log
	Lists     *content.Lists
	Source    *content.Source
	Graph     *graph.Client
	Validator *credential.Validator
}

// NewCore builds the pipeline from resolved config. obs may be nil.
func NewCore(res config.Resolved, log logx.Logger, obs credential.ValidationObserver) (*Core, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	lists, err := content.NewLists(res.StorageRoot)
	if err != nil {
		return nil, err
	}
	act := activity.New(res.LogCapacity, activity.WithLogger(log.With(logx.String("comp", "activity"))))

	gc := graph.New(graph.Config{
		BaseURL:         res.BaseURL,
		IdentityTimeout: res.IdentityTimeout,
		TextTimeout:     res.TextTimeout,
		VideoTimeout:    res.VideoTimeout,
	}, graph.WithTags(lists), graph.WithLogger(log.With(logx.String("comp", "graph"))))

	vopts := []credential.ValidatorOption{
		credential.WithRate(res.ValidateRatePerSec),
		credential.WithLogger(log.With(logx.String("comp", "credential"))),
	}
	if obs != nil {
		vopts = append(vopts, credential.WithObserver(obs))
	}

	return &Core{
		Activity:  act,
		Lists:     lists,
		Source:    content.NewSource(lists, act, content.WithRenderWidth(res.RenderWidth)),
		Graph:     gc,
		Validator: credential.NewValidator(gc, act, vopts...),
	}, nil
}
