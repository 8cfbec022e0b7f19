package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dealtracker/models"
	"dealtracker/pricing"
	"dealtracker/refdata"
	"dealtracker/scheduler"
	"dealtracker/scraper"
	"dealtracker/services"
	"dealtracker/storage"
)

// Server exposes the engine over HTTP: listing queries, deals, stats, and
// CRUD for the reference tables the cycle reads.
type Server struct {
	store   storage.Store
	runner  *services.Runner
	sched   *scheduler.Scheduler
	aurora  *scraper.AuroraUpdater
	cfg     services.RunnerConfig
	logger  *log.Logger
	engine  *gin.Engine
}

func NewServer(store storage.Store, runner *services.Runner, sched *scheduler.Scheduler, aurora *scraper.AuroraUpdater, cfg services.RunnerConfig, logger *log.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:  store,
		runner: runner,
		sched:  sched,
		aurora: aurora,
		cfg:    cfg,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	{
		api.GET("/listings", s.listListings)
		api.GET("/listings/:id", s.getListing)
		api.POST("/listings/:id/hide", s.setHidden(true))
		api.POST("/listings/:id/unhide", s.setHidden(false))
		api.GET("/price-history/:id", s.priceHistory)

		api.GET("/deals", s.listDeals)
		api.GET("/stats", s.getStats)
		api.GET("/brands", s.listBrands)

		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.updateSettings)

		api.GET("/search-queries", s.listQueries)
		api.POST("/search-queries", s.addQuery)
		api.PUT("/search-queries/:id", s.updateQuery)
		api.DELETE("/search-queries/:id", s.deleteQuery)

		api.GET("/keywords", s.listKeywords)
		api.POST("/keywords", s.addKeyword)
		api.DELETE("/keywords/:id", s.deleteKeyword)

		api.GET("/msrp", s.listReferences)
		api.POST("/msrp", s.upsertReference)
		api.DELETE("/msrp/:id", s.deleteReference)
		api.POST("/msrp/refresh", s.refreshReferences)

		api.GET("/scheduler/status", s.schedulerStatus)
		api.POST("/scheduler/trigger", s.schedulerTrigger)
	}
}

// Run blocks serving HTTP until the listener fails or the process exits.
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)
	if s.logger != nil {
		s.logger.Printf("api: listening on %s", addr)
	}
	return s.engine.Run(addr)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) listListings(c *gin.Context) {
	filters := models.ListingFilters{
		Brand:      c.Query("brand"),
		Location:   c.Query("location"),
		Search:     c.Query("q"),
		ActiveOnly: c.Query("active_only") != "false",
		ShowHidden: c.Query("show_hidden") == "true",
		SortBy:     c.Query("sort"),
	}
	if v := c.Query("min_price"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filters.MinPrice = &d
		}
	}
	if v := c.Query("max_price"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filters.MaxPrice = &d
		}
	}

	listings, err := s.store.GetListings(c.Request.Context(), filters)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

func (s *Server) getListing(c *gin.Context) {
	ctx := c.Request.Context()
	listing, err := s.store.GetListing(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	history, err := s.store.GetPriceHistory(ctx, listing.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing, "price_history": history})
}

func (s *Server) setHidden(hidden bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.SetListingHidden(c.Request.Context(), c.Param("id"), hidden); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hidden": hidden})
	}
}

func (s *Server) priceHistory(c *gin.Context) {
	history, err := s.store.GetPriceHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price_history": history})
}

func (s *Server) listDeals(c *gin.Context) {
	ctx := c.Request.Context()
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	resolver, err := s.buildResolver(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	deals, err := services.ComputeDeals(ctx, s.store, resolver, s.cfg.Scoring, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals, "count": len(deals)})
}

// buildResolver mirrors the cycle's resolver wiring: reference rows from the
// store, FX rates from the settings table when present.
func (s *Server) buildResolver(ctx context.Context) (*refdata.Resolver, error) {
	refs, err := s.store.GetRetailReferences(ctx)
	if err != nil {
		return nil, err
	}
	rates := s.cfg.Rates
	var rawRates map[string]float64
	if ok, _ := s.store.GetSetting(ctx, "fx_rates_to_usd", &rawRates); ok && len(rawRates) > 0 {
		rates = make(pricing.Rates, len(rawRates))
		for code, rate := range rawRates {
			rates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
		}
	}
	return refdata.NewResolver(refs, rates), nil
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.store.GetStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listBrands(c *gin.Context) {
	brands, err := s.store.DistinctBrands(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brands": brands})
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.store.GetAllSettings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) updateSettings(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	for key, value := range updates {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(updates)})
}

func (s *Server) listQueries(c *gin.Context) {
	queries, err := s.store.GetSearchQueries(c.Request.Context(), false)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queries": queries})
}

func (s *Server) addQuery(c *gin.Context) {
	var body struct {
		URL     string `json:"url" binding:"required"`
		Label   string `json:"label" binding:"required"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := &models.SearchQuery{
		URL:     body.URL,
		Label:   body.Label,
		Enabled: body.Enabled == nil || *body.Enabled,
	}
	if err := s.store.AddSearchQuery(c.Request.Context(), q); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (s *Server) updateQuery(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body struct {
		URL     string `json:"url"`
		Label   string `json:"label"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	queries, err := s.store.GetSearchQueries(ctx, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	var existing *models.SearchQuery
	for i := range queries {
		if queries[i].ID == id {
			existing = &queries[i]
			break
		}
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "query not found"})
		return
	}

	if body.URL != "" {
		existing.URL = body.URL
	}
	if body.Label != "" {
		existing.Label = body.Label
	}
	if body.Enabled != nil {
		existing.Enabled = *body.Enabled
	}
	if err := s.store.UpdateSearchQuery(ctx, existing); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (s *Server) deleteQuery(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.store.DeleteSearchQuery(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listKeywords(c *gin.Context) {
	keywords, err := s.store.GetBrandKeywords(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keywords": keywords})
}

func (s *Server) addKeyword(c *gin.Context) {
	var body struct {
		Brand    string `json:"brand" binding:"required"`
		Keyword  string `json:"keyword" binding:"required"`
		IsModel  bool   `json:"is_model"`
		Position int    `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	k := &models.BrandKeyword{
		Brand:    strings.ToLower(body.Brand),
		Keyword:  strings.ToLower(body.Keyword),
		IsModel:  body.IsModel,
		Position: body.Position,
	}
	if err := s.store.AddBrandKeyword(c.Request.Context(), k); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, k)
}

func (s *Server) deleteKeyword(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.store.DeleteBrandKeyword(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listReferences(c *gin.Context) {
	refs, err := s.store.GetRetailReferences(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"references": refs})
}

func (s *Server) upsertReference(c *gin.Context) {
	var body struct {
		Brand       string  `json:"brand" binding:"required"`
		Model       string  `json:"model"`
		MSRP        float64 `json:"msrp"`
		RetailPrice float64 `json:"retail_price"`
		Currency    string  `json:"currency"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	currency := strings.ToUpper(body.Currency)
	if currency == "" {
		currency = "USD"
	}
	ref := &models.RetailReference{
		Brand:       strings.ToLower(body.Brand),
		Model:       strings.ToLower(body.Model),
		MSRP:        decimal.NewFromFloat(body.MSRP).Round(2),
		RetailPrice: decimal.NewFromFloat(body.RetailPrice).Round(2),
		Currency:    currency,
	}
	if err := s.store.UpsertRetailReference(c.Request.Context(), ref); err != nil {
		s.fail(c, err)
		return
	}
	s.rescoreListings(c.Request.Context())
	c.JSON(http.StatusOK, ref)
}

func (s *Server) deleteReference(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.store.DeleteRetailReference(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.rescoreListings(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) refreshReferences(c *gin.Context) {
	if s.aurora == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retail updater not configured"})
		return
	}
	updated, err := s.aurora.Update(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	rescored := s.rescoreListings(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"updated": updated, "rescored": rescored})
}

// rescoreListings refreshes the stored deal scores after retail reference
// data changed outside a scrape cycle. Failures are logged, not surfaced;
// scores catch up on the next cycle anyway.
func (s *Server) rescoreListings(ctx context.Context) int {
	resolver, err := s.buildResolver(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("api: rescore: %v", err)
		}
		return 0
	}
	n, err := services.RescoreAll(ctx, s.store, resolver, s.cfg.Scoring)
	if err != nil && s.logger != nil {
		s.logger.Printf("api: rescore: %v", err)
	}
	return n
}

func (s *Server) schedulerStatus(c *gin.Context) {
	status := gin.H{"running": s.runner.Running()}
	if s.sched != nil {
		status["schedule"] = s.sched.Schedule()
	}
	if hours := storage.GetSettingInt(c.Request.Context(), s.store, "scrape_interval_hours", 0); hours > 0 {
		status["interval_hours"] = hours
	}
	if last := s.runner.LastStats(); last != nil {
		status["last_run"] = last
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) schedulerTrigger(c *gin.Context) {
	go func() {
		if _, err := s.runner.RunCycle(context.Background(), 0); err != nil && s.logger != nil {
			s.logger.Printf("api: triggered cycle: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

func (s *Server) fail(c *gin.Context, err error) {
	if s.logger != nil {
		s.logger.Printf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
