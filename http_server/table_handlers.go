package http_server

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/danthegoodman1/icetree/metastore"
	"github.com/danthegoodman1/icetree/part_reader"
	"github.com/danthegoodman1/icetree/utils"
)

type (
	verifyResult struct {
		Part  string
		OK    bool
		Error string `json:",omitempty"`
	}
)

func (s *HTTPServer) CreateTableHandler(c *CustomContext) error {
	var reqBody metastore.TableSchema
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if err := s.Service.CreateTable(c.Request().Context(), reqBody); err != nil {
		return c.ServiceError(err, "error creating table")
	}
	return c.NoContent(http.StatusCreated)
}

func (s *HTTPServer) GetTableHandler(c *CustomContext) error {
	ts, err := s.Service.MetaStore.GetTableSchema(c.Request().Context(), c.Param("table"))
	if err != nil {
		return c.ServiceError(err, "error getting table")
	}
	return c.JSON(http.StatusOK, ts)
}

// ListPartsHandler lists the active parts, optionally of one partition via ?partition=
func (s *HTTPServer) ListPartsHandler(c *CustomContext) error {
	var filters []metastore.FilterOption
	if partition := c.QueryParam("partition"); partition != "" {
		filters = append(filters, metastore.FilterOption{Operator: metastore.IN, Val: []string{partition}})
	}
	parts, err := s.Service.ListParts(c.Request().Context(), c.Param("table"), filters...)
	if err != nil {
		return c.ServiceError(err, "error listing parts")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(parts))
}

func (s *HTTPServer) VerifyPartHandler(c *CustomContext) error {
	partName := c.Param("part")
	err := s.Service.VerifyPart(c.Request().Context(), c.Param("table"), partName)
	if err == nil {
		return c.JSON(http.StatusOK, verifyResult{Part: partName, OK: true})
	}
	if errors.Is(err, part_reader.ErrChecksumMismatch) || errors.Is(err, part_reader.ErrMissingFile) || errors.Is(err, part_reader.ErrUnexpectedFile) {
		return c.JSON(http.StatusOK, verifyResult{Part: partName, Error: err.Error()})
	}
	return c.ServiceError(err, "error verifying part")
}

func (s *HTTPServer) ParquetHandler(c *CustomContext) error {
	var b bytes.Buffer
	partName := c.Param("part")
	if err := s.Service.ExportParquet(c.Request().Context(), c.Param("table"), partName, &b); err != nil {
		return c.ServiceError(err, "error exporting part")
	}
	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+partName+`.parquet"`)
	return c.Blob(http.StatusOK, "application/vnd.apache.parquet", b.Bytes())
}
