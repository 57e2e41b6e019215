package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/icetree/merger"
	"github.com/danthegoodman1/icetree/table"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/rs/zerolog"
)

type (
	MergeReqBody struct {
		Table string `validate:"required"`
		// The partition ID to merge in, the first partition with more than one part when nil.
		//
		// Ex: `2024-01-02`
		Partition *string
		// Max number of parts to merge at once.
		//
		// Default 4.
		MaxMergeParts *int `validate:"omitempty,min=2"`
		// Write the non key columns one at a time
		Vertical bool
		// Record the names of the merged parts in the result
		RecordSourceParts bool
		// How many seconds before the merge will time out.
		//
		// Default `60`.
		MaxRuntimeSec *int64
	}
)

func (s *HTTPServer) MergeHandler(c *CustomContext) error {
	var reqBody MergeReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 60)))
	defer cancel()

	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", reqBody.Table).Msg("running merge handler")

	mode := merger.Horizontal
	if reqBody.Vertical {
		mode = merger.Vertical
	}
	stats, err := s.Service.Merge(ctx, reqBody.Table, table.MergeRequest{
		Partition:         reqBody.Partition,
		MaxParts:          utils.Deref(reqBody.MaxMergeParts, table.DefaultMaxMergeParts),
		Mode:              mode,
		RecordSourceParts: reqBody.RecordSourceParts,
	})
	if err != nil {
		return c.ServiceError(err, "error merging parts")
	}

	return c.JSON(http.StatusOK, stats)
}
