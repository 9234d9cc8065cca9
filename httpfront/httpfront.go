// Package httpfront implements the HTTP surface of §6: a thin gin router
// translating REST-ish requests into executor calls. It is an
// external-collaborator contract, not part of the core engine — the
// engine never depends on this package.
package httpfront

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/command"
	"github.com/ledgerwatch/immuxdb/content"
	"github.com/ledgerwatch/immuxdb/executor"
	"github.com/ledgerwatch/immuxdb/grouping"
	"github.com/ledgerwatch/immuxdb/txmanager"
)

// Server wraps an Executor and exposes it as an http.Handler.
type Server struct {
	executor *executor.Executor
	engine   *gin.Engine
	logger   log.Logger
}

// New builds the router. Routes mirror §6's table exactly, including the
// `/.transactions` and `/.journal` reserved path segments.
func New(x *executor.Executor) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{executor: x, engine: r, logger: log.New("module", "httpfront")}

	r.POST("/.transactions", s.createTransaction)
	r.POST("/.transactions/:id", s.finishTransaction)

	r.GET("/.journal", s.inspectAll)
	r.GET("/:grouping/:key/.journal", s.inspectOneOrScan)

	r.GET("/.transactions/:id/:grouping/:key", s.getKey)
	r.GET("/:grouping/:key", s.getKey)
	r.GET("/:grouping", s.scanGrouping)

	r.PUT("/.transactions/:id/:grouping/:key", s.putKey)
	r.PUT("/:grouping/:key", s.putKey)
	r.PUT("/", s.revertAll)

	r.DELETE("/.transactions/:id/:grouping/:key", s.deleteKey)
	r.DELETE("/:grouping/:key", s.deleteKey)
	r.DELETE("/", s.removeAll)

	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) createTransaction(c *gin.Context) {
	id, err := s.executor.BeginTransaction(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, strconv.FormatUint(uint64(id), 10))
}

func (s *Server) finishTransaction(c *gin.Context) {
	id, err := parseTxID(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if _, ok := c.GetQuery("commit"); ok {
		if err := s.executor.CommitTransaction(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)
		return
	}
	if _, ok := c.GetQuery("abort"); ok {
		if err := s.executor.AbortTransaction(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusBadRequest)
}

func (s *Server) getKey(c *gin.Context) {
	label := grouping.LabelFromString(c.Param("grouping"))
	key := grouping.UnitKeyFromString(c.Param("key"))
	tx, err := optionalTxID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	got, ok, err := s.executor.Get(c.Request.Context(), label, key, tx)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusOK)
		return
	}
	c.String(http.StatusOK, got.String())
}

func (s *Server) scanGrouping(c *gin.Context) {
	label := grouping.LabelFromString(c.Param("grouping"))
	cond := command.SelectAll()
	if expr, ok := c.GetQuery("filter"); ok {
		cond = command.SelectWithFilter(expr)
	}

	out, err := s.executor.Select(c.Request.Context(), label, cond)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentStrings(out.Contents))
}

func (s *Server) putKey(c *gin.Context) {
	label := grouping.LabelFromString(c.Param("grouping"))
	key := grouping.UnitKeyFromString(c.Param("key"))
	tx, err := optionalTxID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if heightParam, ok := c.GetQuery("height"); ok {
		height, err := parseHeight(heightParam)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := s.executor.RevertOne(c.Request.Context(), label, key, height, tx); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.executor.Insert(c.Request.Context(), label, key, content.String(string(body)), tx); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) revertAll(c *gin.Context) {
	heightParam := c.Query("height")
	height, err := parseHeight(heightParam)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.executor.RevertAll(c.Request.Context(), height); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) deleteKey(c *gin.Context) {
	label := grouping.LabelFromString(c.Param("grouping"))
	key := grouping.UnitKeyFromString(c.Param("key"))
	tx, err := optionalTxID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.executor.RemoveOne(c.Request.Context(), label, key, tx); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) removeAll(c *gin.Context) {
	if err := s.executor.RemoveAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) inspectAll(c *gin.Context) {
	out, err := s.executor.InspectAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyStrings(out.History))
}

func (s *Server) inspectOneOrScan(c *gin.Context) {
	label := grouping.LabelFromString(c.Param("grouping"))
	key := grouping.UnitKeyFromString(c.Param("key"))
	out, err := s.executor.InspectOne(c.Request.Context(), label, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyStrings(out.History))
}

func contentStrings(items []content.Content) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.String()
	}
	return out
}

func historyStrings(history []command.CommandAtHeight) []string {
	out := make([]string, len(history))
	for i, h := range history {
		out[i] = h.Command.String()
	}
	return out
}

func optionalTxID(c *gin.Context) (*txmanager.ID, error) {
	raw := c.Param("id")
	if raw == "" {
		return nil, nil
	}
	id, err := parseTxID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseTxID(raw string) (txmanager.ID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return txmanager.ID(v), nil
}

func parseHeight(raw string) (chainheight.Height, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return chainheight.New(v), nil
}

func writeError(c *gin.Context, err error) {
	c.String(http.StatusInternalServerError, err.Error())
}
