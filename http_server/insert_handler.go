package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/rs/zerolog"
)

type (
	InsertReqBody struct {
		Table string `validate:"required"`
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []map[string]any
	}
)

var (
	ErrNotFlatMap = errors.New("not a flat map")
	ErrBadRows    = errors.New("bad rows")

	InsertTimeout = time.Second * time.Duration(utils.GetEnvOrDefaultInt("INSERT_TIMEOUT_SEC", 60))
)

func flattenRow(row map[string]any) (map[string]any, error) {
	flat, err := gojsonutils.Flatten(row, nil)
	if err != nil {
		return nil, fmt.Errorf("error flattening JSON map: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrNotFlatMap, flat)
	}
	return flatMap, nil
}

// parseRows flattens the rows of either body format, NDJSON taking precedence
func parseRows(body InsertReqBody) ([]map[string]any, error) {
	var rows []map[string]any
	if body.RowsString == nil {
		for _, row := range body.Rows {
			flatMap, err := flattenRow(row)
			if err != nil {
				return nil, err
			}
			rows = append(rows, flatMap)
		}
		return rows, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(*body.RowsString))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var jsonMap map[string]any
		if err := json.Unmarshal([]byte(text), &jsonMap); err != nil {
			return nil, fmt.Errorf("%w: line %d is not a JSON object", ErrBadRows, line)
		}
		flatMap, err := flattenRow(jsonMap)
		if err != nil {
			return nil, err
		}
		rows = append(rows, flatMap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadRows, err)
	}
	return rows, nil
}

func (s *HTTPServer) InsertHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), InsertTimeout)
	defer cancel()

	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	rows, err := parseRows(reqBody)
	if errors.Is(err, ErrBadRows) || errors.Is(err, ErrNotFlatMap) {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return c.InternalError(err, "error parsing rows")
	}
	if len(rows) == 0 {
		return c.String(http.StatusBadRequest, "no rows found")
	}

	stats, err := s.Service.Insert(ctx, reqBody.Table, rows)
	if err != nil {
		return c.ServiceError(err, "error inserting rows")
	}
	zerolog.Ctx(ctx).Debug().Str("table", reqBody.Table).Int64("rows", stats.NumRows).Strs("parts", stats.Parts).Msg("inserted rows")

	return c.JSON(http.StatusAccepted, stats)
}
