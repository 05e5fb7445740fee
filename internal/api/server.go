// Package api serves a read-only HTTP view of the loaded shader dumps.
package api

import (
	"encoding/binary"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/shaderdump/internal/logger"
	"github.com/samcharles93/shaderdump/internal/shaderdump"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

// HeaderWords carries the word count of a returned program.
const HeaderWords = "X-Shaderdump-Words"

type Server struct {
	reg *shaderdump.Registry
	log logger.Logger
}

func NewServer(reg *shaderdump.Registry, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{reg: reg, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/slots", s.handleListSlots)
	e.GET("/v1/slots/:slot", s.handleGetSlot)
	e.GET("/v1/slots/:slot/code/:type/:id", s.handleGetCode)
}

func (s *Server) handleListSlots(c *echo.Context) error {
	out := SlotList{Object: "list", Data: []SlotSummary{}}
	for _, slot := range s.reg.Slots() {
		o, ok := s.reg.Lookup(slot)
		if !ok {
			continue
		}
		out.Data = append(out.Data, summarize(slot, o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSlot(c *echo.Context) error {
	slot := shaderdump.Slot(c.Param("slot"))
	o, ok := s.reg.Lookup(slot)
	if !ok {
		return writeNotFound(c, "unknown slot "+string(slot))
	}

	detail := SlotDetail{SlotSummary: summarize(slot, o), Sections: []SectionInfo{}, Classes: []string{}}
	d := o.Dump()
	if d == nil {
		return c.JSON(http.StatusOK, detail)
	}
	for _, sec := range d.Sections() {
		detail.Sections = append(detail.Sections, SectionInfo{
			Type:    sec.Type.String(),
			Version: sec.Version,
			Offset:  sec.Offset,
			Size:    sec.Size,
		})
	}
	for i := range d.NumClasses() {
		cls, err := d.Class(i)
		if err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		detail.Classes = append(detail.Classes, cls.Name)
	}
	detail.Codes = d.NumCodes()
	detail.Vars = d.NumVars()
	detail.Intervals = d.NumIntervals()
	detail.Blocks = d.NumBlocks()
	detail.VertexCount = d.NumPrograms(bindump.CodeVertex)
	detail.PixelCount = d.NumPrograms(bindump.CodePixel)
	switch {
	case o.V2() != nil:
		detail.Groups = o.V2().NumGroups()
	case o.V3() != nil:
		detail.Groups = o.V3().NumGroups()
	}
	detail.CachedGroups = o.CachedGroups()
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleGetCode(c *echo.Context) error {
	slot := shaderdump.Slot(c.Param("slot"))
	typ, err := bindump.ParseCodeType(c.Param("type"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return writeBadRequest(c, "invalid program id "+strconv.Quote(c.Param("id")))
	}
	o, ok := s.reg.Lookup(slot)
	if !ok {
		return writeNotFound(c, "unknown slot "+string(slot))
	}

	var buf shaderdump.Bytecode
	code, err := o.GetCode(uint32(id), typ, &buf)
	switch {
	case errors.Is(err, bindump.ErrUnknownID), errors.Is(err, shaderdump.ErrNotLoaded):
		return writeNotFound(c, err.Error())
	case err != nil:
		s.log.Error("get code failed", "slot", slot, "type", typ, "id", id, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	out := make([]byte, 0, len(code)*4)
	for _, w := range code {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	c.Response().Header().Set(HeaderWords, strconv.Itoa(len(code)))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, out)
}

func summarize(slot shaderdump.Slot, o *shaderdump.Owner) SlotSummary {
	sum := SlotSummary{
		Slot:  string(slot),
		Size:  o.DumpSize(),
		Cache: o.CacheStats(),
	}
	if o.DumpSize() == 0 {
		return sum
	}
	sum.Loaded = true
	sum.Version = o.Version()
	sum.LoadID = o.LoadID().String()
	sum.Generation = o.Generation()
	sum.Mmapped = o.Mmapped()
	return sum
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}
