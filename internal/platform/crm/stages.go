package crm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StageRef is a resolved pipeline/stage id pair. Opportunity creation needs
// both: the pipeline id routes the request, the stage id places the record.
type StageRef struct {
	PipelineID string
	StageID    string
}

// StageResolver translates a human-readable pipeline/stage name pair to the
// CRM's internal ids. The probing across inconsistent endpoint shapes is an
// implementation detail; callers only see resolve-by-name.
type StageResolver interface {
	ResolveStage(ctx context.Context, pipelineName, stageName string) (StageRef, error)
}

type pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []stage `json:"stages"`
}

type stage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pipelinesResponse struct {
	Pipelines []pipeline `json:"pipelines"`
}

type locationResponse struct {
	Location *struct {
		Pipelines []pipeline `json:"pipelines"`
	} `json:"location"`
	Pipelines []pipeline `json:"pipelines"`
}

// stageResolver probes three endpoint shapes the CRM has shipped over time,
// short-circuiting on the first that yields the stage. Results are cached.
type stageResolver struct {
	client *Client
	cache  *stageCache
	log    *zap.SugaredLogger
}

func NewStageResolver(client *Client, log *zap.SugaredLogger) StageResolver {
	return &stageResolver{
		client: client,
		cache:  newStageCache(64, time.Hour, time.Now),
		log:    log,
	}
}

func (r *stageResolver) ResolveStage(ctx context.Context, pipelineName, stageName string) (StageRef, error) {
	key := pipelineName + "|" + stageName
	if ref, ok := r.cache.Get(key); ok {
		return ref, nil
	}

	probes := []func(context.Context, string) ([]pipeline, error){
		r.probeFilteredList,
		r.probeFullList,
		r.probeLocation,
	}

	var lastErr error
	for i, probe := range probes {
		pipelines, err := probe(ctx, pipelineName)
		if err != nil {
			lastErr = err
			r.log.Warnw("stage probe failed", "probe", i, "pipeline", pipelineName, "error", err.Error())
			continue
		}
		if ref, ok := findStage(pipelines, pipelineName, stageName); ok {
			r.cache.Put(key, ref)
			return ref, nil
		}
	}

	if lastErr != nil {
		return StageRef{}, fmt.Errorf("failed to resolve stage %q in pipeline %q: %w", stageName, pipelineName, lastErr)
	}
	return StageRef{}, fmt.Errorf("stage %q not found in pipeline %q", stageName, pipelineName)
}

// probeFilteredList asks the CRM to filter pipelines by name server-side.
func (r *stageResolver) probeFilteredList(ctx context.Context, pipelineName string) ([]pipeline, error) {
	var res pipelinesResponse
	q := url.Values{"name": {pipelineName}}
	if err := r.client.do(ctx, http.MethodGet, "/pipelines/", q, nil, &res); err != nil {
		return nil, err
	}
	return res.Pipelines, nil
}

// probeFullList lists every pipeline and filters client-side.
func (r *stageResolver) probeFullList(ctx context.Context, _ string) ([]pipeline, error) {
	var res pipelinesResponse
	if err := r.client.do(ctx, http.MethodGet, "/pipelines/", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Pipelines, nil
}

// probeLocation fetches the parent location object, whose response embeds
// pipeline and stage definitions on some API versions.
func (r *stageResolver) probeLocation(ctx context.Context, _ string) ([]pipeline, error) {
	if r.client.locationID == "" {
		return nil, fmt.Errorf("no location id configured")
	}
	var res locationResponse
	if err := r.client.do(ctx, http.MethodGet, "/locations/"+r.client.locationID, nil, nil, &res); err != nil {
		return nil, err
	}
	if res.Location != nil && len(res.Location.Pipelines) > 0 {
		return res.Location.Pipelines, nil
	}
	return res.Pipelines, nil
}

func findStage(pipelines []pipeline, pipelineName, stageName string) (StageRef, bool) {
	for _, p := range pipelines {
		if !strings.EqualFold(p.Name, pipelineName) {
			continue
		}
		for _, s := range p.Stages {
			if strings.EqualFold(s.Name, stageName) {
				return StageRef{PipelineID: p.ID, StageID: s.ID}, true
			}
		}
	}
	return StageRef{}, false
}
