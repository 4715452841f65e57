package rest

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flowdesk/msggate/pkg/msgworker"
	"github.com/flowdesk/msggate/pkg/utils"
	"github.com/gofiber/fiber/v2"

	jobdomain "github.com/flowdesk/msggate/jobqueue/domain"
)

// Monitoring exposes operational state: worker pool load, queue depth and
// the most recent terminal failures.
type Monitoring struct {
	Pool      *msgworker.Pool
	QueueRepo jobdomain.IQueueRepository
	StartTime time.Time
}

type failedJobView struct {
	ID        uint64 `json:"id"`
	TenantID  string `json:"tenant_id"`
	Type      string `json:"type"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	FailedAgo string `json:"failed_ago"`
}

func InitRestMonitoring(app fiber.Router, handler Monitoring) Monitoring {
	app.Get("/monitoring", handler.Overview)
	app.Get("/monitoring/failed-jobs", handler.FailedJobs)
	return handler
}

func (handler *Monitoring) Overview(c *fiber.Ctx) error {
	counts, err := handler.QueueRepo.CountByStatus(c.UserContext())
	panicIfNeeded(err)

	var poolStats any
	if handler.Pool != nil {
		poolStats = handler.Pool.GetStats()
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Monitoring snapshot",
		Results: map[string]any{
			"uptime":      humanize.Time(handler.StartTime),
			"queue":       counts,
			"worker_pool": poolStats,
		},
	})
}

func (handler *Monitoring) FailedJobs(c *fiber.Ctx) error {
	jobs, err := handler.QueueRepo.ListFailed(c.UserContext(), c.QueryInt("limit", 50))
	panicIfNeeded(err)

	views := make([]failedJobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, failedJobView{
			ID:        job.ID,
			TenantID:  job.TenantID,
			Type:      job.Type,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			FailedAgo: humanize.Time(job.UpdatedAt),
		})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Failed jobs fetched",
		Results: views,
	})
}
