package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/awaregh/platform/internal/repository"
)

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type pageEnvelope struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func pageRequest(c echo.Context) repository.PageRequest {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return repository.PageRequest{Page: page, Limit: limit}.Normalize()
}

func paged(data any, req repository.PageRequest, total int) pageEnvelope {
	totalPages := (total + req.Limit - 1) / req.Limit
	return pageEnvelope{
		Data: data,
		Pagination: pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}
}
