package aggregator

import (
	"errors"
	"log"
	"runtime/debug"

	"github.com/dreamware/stratus/internal/message"
	"github.com/dreamware/stratus/internal/storage"
	"github.com/dreamware/stratus/internal/weather"
)

// Messages carried in status response bodies.
const (
	msgNoStation     = "Please indicate stationID in GET request"
	msgUnknown       = "The requested station ID is not on server"
	msgUnsupported   = "Server only supports PUT/GET requests"
	msgNoFile        = "Please indicate the file name in PUT request"
	msgBadWeather    = "Request body is not valid weather data"
	msgInternalError = "Failed to process request"
)

// execute runs on a pool worker. A panic while handling becomes a 500.
func (s *Server) execute(req *message.Request, remoteIP string, priority uint64) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s %s %s: panic: %v\n%s", s.name, req.Method, req.URI, r, debug.Stack())
			resp = internalError(msgInternalError)
		}
	}()

	switch req.Method {
	case "GET":
		return s.handleGet(req)
	case "PUT":
		return s.handlePut(req, remoteIP, priority)
	default:
		return badRequest(msgUnsupported)
	}
}

// handleGet returns the record of the requested station.
func (s *Server) handleGet(req *message.Request) *message.Response {
	id, ok := req.Endpoint()
	if !ok {
		return message.NewStatusResponse(message.StatusNoContent, msgNoStation)
	}

	record, err := s.lookup(id)
	if err != nil {
		if errors.Is(err, storage.ErrStationNotFound) {
			return message.NewStatusResponse(message.StatusNotFound, msgUnknown)
		}
		return internalError(msgInternalError)
	}

	return message.NewResponse(message.StatusOK).
		SetHeader(message.ContentType, message.JSONContentType).
		SetBody("{\n" + record + "\n}")
}

// handlePut archives the upload and replaces the record of every station
// it carries. The first PUT from a producer answers 201, later ones 200.
func (s *Server) handlePut(req *message.Request, remoteIP string, priority uint64) *message.Response {
	file, ok := req.Endpoint()
	if !ok {
		return badRequest(msgNoFile)
	}
	doc, err := weather.Decode(req.Body)
	if err != nil {
		log.Printf("%s PUT %s from %s: %v", s.name, req.URI, remoteIP, err)
		return badRequest(msgBadWeather)
	}

	first := s.store(remoteIP, file, req.Body, priority, doc)

	code := message.StatusOK
	if first {
		code = message.StatusCreated
	}
	return message.NewResponse(code).
		SetHeader(message.ContentType, message.JSONContentType).
		SetBody(req.Body)
}

func (s *Server) lookup(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Get(id)
}

// store applies one PUT under the exclusive lock: archive first, then the
// database.
func (s *Server) store(remoteIP, file, body string, priority uint64, doc *weather.Document) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first = s.archive.Accept(remoteIP, file, body, priority)
	for _, st := range doc.Stations {
		s.db.Put(st.ID, st.Record())
	}
	return first
}

func badRequest(msg string) *message.Response {
	return message.NewStatusResponse(message.StatusBadRequest, msg)
}

func internalError(msg string) *message.Response {
	return message.NewStatusResponse(message.StatusInternalServerError, msg)
}
