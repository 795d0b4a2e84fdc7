package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artemis/databridge/internal/job"
)

// cancelJob is shared by CancelImport/CancelExport: cooperative
// cancellation only flips status on a non-terminal row, so a job that
// already finished is returned unchanged rather than erroring.
func (s *Server) cancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("jobId")

	j, err := s.jobRepo.FindByID(ctx, ownerID(c), jobID)
	if err != nil {
		respondNotFound(c, "job not found")
		return
	}

	if !j.Status.Terminal() {
		if err := s.jobRepo.RequestCancellation(ctx, jobID); err != nil {
			respondNotFound(c, "job not found")
			return
		}
		j.Status = job.StatusCancelled
	}

	c.JSON(http.StatusAccepted, newJobResponse(j))
}
