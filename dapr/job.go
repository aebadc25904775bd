// Package dapr serves scheduled seeding jobs through the Dapr Jobs API.
package dapr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/dapr/go-sdk/service/common"
	common2 "github.com/researchaccelerator-hub/media-atlas/common"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/anypb"
)

// TaskSeed adds the job's seeds to the running crawl as monitored sources.
const TaskSeed = "seed"

// Seeder receives the seeds of a fired job.
type Seeder interface {
	AddSeeds(ctx context.Context, seeds []common2.Seed) (int, error)
}

// Scheduler is the part of daprc.Client that talks to the Jobs API.
type Scheduler interface {
	ScheduleJobAlpha1(ctx context.Context, req *daprc.Job) error
	GetJobAlpha1(ctx context.Context, name string) (*daprc.Job, error)
}

// JobData is the payload of a scheduled job.
type JobData struct {
	Name     string   `json:"name"`
	DueTime  string   `json:"dueTime,omitempty"`
	Task     string   `json:"task"`
	Seeds    []string `json:"seeds,omitempty"` // "<url> [tier]"
	SeedFile string   `json:"seedFile,omitempty"`
	Tier     int      `json:"tier,omitempty"`
	CrawlID  string   `json:"crawlId,omitempty"`
}

// Validate checks a job before it is scheduled.
func (j JobData) Validate() error {
	if j.Name == "" {
		return errors.New("job name is required")
	}
	if j.Task != TaskSeed {
		return fmt.Errorf("unsupported job task %q", j.Task)
	}
	if len(j.Seeds) == 0 && j.SeedFile == "" {
		return errors.New("seed job needs seeds or a seed file")
	}
	if j.Tier < 0 || j.Tier > 2 {
		return fmt.Errorf("invalid tier %d", j.Tier)
	}
	return nil
}

// ScheduleJob validates data and hands it to the Dapr scheduler.
func ScheduleJob(ctx context.Context, client Scheduler, data JobData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal job content: %w", err)
	}

	job := daprc.Job{
		Name:    data.Name,
		DueTime: data.DueTime,
		Data: &anypb.Any{
			Value: content,
		},
	}
	if err := client.ScheduleJobAlpha1(ctx, &job); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", data.Name, err)
	}

	log.Info().Str("job", data.Name).Str("due_time", data.DueTime).Int("seeds", len(data.Seeds)).Msg("Job scheduled")
	return nil
}

// JobServer answers job events for one crawl.
type JobServer struct {
	client   Scheduler
	seeder   Seeder
	crawlID  string
	jobNames []string
}

// NewJobServer builds a server adding fired seeds to seeder. Only jobs named
// in jobNames are handled.
func NewJobServer(client Scheduler, seeder Seeder, crawlID string, jobNames []string) *JobServer {
	return &JobServer{
		client:   client,
		seeder:   seeder,
		crawlID:  crawlID,
		jobNames: jobNames,
	}
}

// Register adds the invocation and job handlers to server.
func (s *JobServer) Register(server common.Service) error {
	if err := server.AddServiceInvocationHandler("scheduleJob", s.scheduleJob); err != nil {
		return fmt.Errorf("error adding invocation handler: %w", err)
	}
	if err := server.AddServiceInvocationHandler("getJob", s.getJob); err != nil {
		return fmt.Errorf("error adding invocation handler: %w", err)
	}

	for _, name := range s.jobNames {
		if err := server.AddJobEventHandler(name, s.handleJob); err != nil {
			return fmt.Errorf("failed to register job event handler %s: %w", name, err)
		}
		log.Info().Str("job", name).Msg("Registered job handler")
	}
	return nil
}

func (s *JobServer) known(name string) bool {
	for _, n := range s.jobNames {
		if n == name {
			return true
		}
	}
	return false
}

// scheduleJob schedules the JobData carried by the invocation.
func (s *JobServer) scheduleJob(ctx context.Context, in *common.InvocationEvent) (*common.Content, error) {
	if in == nil {
		return nil, errors.New("no invocation parameter")
	}

	var data JobData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal job")
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if !s.known(data.Name) {
		return nil, fmt.Errorf("no handler registered for job %q", data.Name)
	}
	if err := ScheduleJob(ctx, s.client, data); err != nil {
		log.Error().Err(err).Str("job", data.Name).Msg("Failed to schedule job")
		return nil, err
	}

	return &common.Content{
		Data:        in.Data,
		ContentType: in.ContentType,
		DataTypeURL: in.DataTypeURL,
	}, nil
}

// getJob returns the payload of the job named by the invocation data.
func (s *JobServer) getJob(ctx context.Context, in *common.InvocationEvent) (*common.Content, error) {
	if in == nil {
		return nil, errors.New("no invocation parameter")
	}

	job, err := s.client.GetJobAlpha1(ctx, string(in.Data))
	if err != nil {
		log.Error().Err(err).Str("job", string(in.Data)).Msg("Failed to get job")
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	out := &common.Content{
		ContentType: in.ContentType,
		DataTypeURL: in.DataTypeURL,
	}
	if job != nil && job.Data != nil {
		out.Data = job.Data.Value
	}
	return out, nil
}

// handleJob adds the seeds of a fired job. Jobs for another crawl are
// acknowledged and ignored.
func (s *JobServer) handleJob(ctx context.Context, job *common.JobEvent) error {
	log.Info().Str("job_type", job.JobType).Msg("Job event received")

	var data JobData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if data.CrawlID != "" && data.CrawlID != s.crawlID {
		log.Warn().Str("job", data.Name).Str("job_crawl_id", data.CrawlID).Str("crawl_id", s.crawlID).Msg("Ignoring job for another crawl")
		return nil
	}
	if !strings.EqualFold(data.Task, TaskSeed) {
		log.Warn().Str("job", data.Name).Str("task", data.Task).Msg("Ignoring job with unknown task")
		return nil
	}

	lines := append([]string(nil), data.Seeds...)
	if data.SeedFile != "" {
		fileLines, err := common2.ReadURLsFromFile(data.SeedFile)
		if err != nil {
			return err
		}
		lines = append(lines, fileLines...)
	}
	seeds, err := common2.ParseSeeds(lines, data.Tier)
	if err != nil {
		return fmt.Errorf("invalid seeds in job %s: %w", data.Name, err)
	}

	added, err := s.seeder.AddSeeds(ctx, seeds)
	if err != nil {
		return fmt.Errorf("failed to add seeds from job %s: %w", data.Name, err)
	}
	log.Info().Str("job", data.Name).Int("seeds", len(seeds)).Int("added", added).Msg("Executed seed job")
	return nil
}
