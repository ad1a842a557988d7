// Package api serves the detection operations over HTTP with gin.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/detection"
	"github.com/abhisek/foresight/internal/store"
	"github.com/abhisek/foresight/internal/struggle"
)

// RetrainFunc trains a candidate classifier and reports the run.
type RetrainFunc func(ctx context.Context) (*store.TrainingRun, error)

// Handlers holds the HTTP handlers.
type Handlers struct {
	svc     *detection.Service
	retrain RetrainFunc
	version string
	log     logrus.FieldLogger
}

// NewHandlers creates handlers over svc. retrain may be nil, in which case
// POST /v1/model/retrain is not routed.
func NewHandlers(svc *detection.Service, retrain RetrainFunc, version string, log logrus.FieldLogger) *Handlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{svc: svc, retrain: retrain, version: version, log: log.WithField("component", "api")}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		return id.(string)
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	c.Set(requestIDKey, requestID)
	return requestID
}

func (h *Handlers) logger(c *gin.Context, handler string) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"request_id": getOrCreateRequestID(c),
		"handler":    handler,
	})
}

// bindOptionalJSON binds a JSON body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	active := h.svc.Registry().Active()
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Model:        active.Name(),
		ModelVersion: active.Version(),
	})
}

// HandleGenerate handles POST /v1/learners/:id/predictions.
func (h *Handlers) HandleGenerate(c *gin.Context) {
	log := h.logger(c, "HandleGenerate")
	var req GenerateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, log, err)
		return
	}
	res, err := h.svc.GeneratePredictions(c.Request.Context(), c.Param("id"), req.DaysAhead)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleListPredictions handles GET /v1/learners/:id/predictions.
func (h *Handlers) HandleListPredictions(c *gin.Context) {
	log := h.logger(c, "HandleListPredictions")
	var q ListPredictionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, log, err)
		return
	}
	from, err := parseDate(q.From)
	if err != nil {
		badRequest(c, log, err)
		return
	}
	to, err := parseDate(q.To)
	if err != nil {
		badRequest(c, log, err)
		return
	}
	f := store.PredictionFilter{
		ObjectiveID:    q.ObjectiveID,
		MinProbability: q.MinProbability,
		MaxProbability: q.MaxProbability,
		From:           from,
		To:             to,
		Limit:          q.Limit,
	}
	for _, s := range q.Status {
		f.Statuses = append(f.Statuses, struggle.Status(s))
	}
	list, err := h.svc.ListPredictions(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// HandleGetPrediction handles GET /v1/predictions/:id.
func (h *Handlers) HandleGetPrediction(c *gin.Context) {
	log := h.logger(c, "HandleGetPrediction")
	detail, err := h.svc.GetPrediction(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// HandleFeedback handles POST /v1/predictions/:id/feedback.
func (h *Handlers) HandleFeedback(c *gin.Context) {
	log := h.logger(c, "HandleFeedback")
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, err)
		return
	}
	m, err := h.svc.SubmitFeedback(c.Request.Context(), c.Param("id"), struggle.Feedback{
		InterventionID: req.InterventionID,
		LearnerID:      req.LearnerID,
		Kind:           req.Kind,
		Rating:         req.Rating,
		Comment:        req.Comment,
		ActualStruggle: req.ActualStruggle,
	})
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// HandleListInterventions handles GET /v1/learners/:id/interventions.
func (h *Handlers) HandleListInterventions(c *gin.Context) {
	log := h.logger(c, "HandleListInterventions")
	var q ListInterventionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, log, err)
		return
	}
	statuses := make([]struggle.InterventionStatus, 0, len(q.Status))
	for _, s := range q.Status {
		statuses = append(statuses, struggle.InterventionStatus(s))
	}
	recs, err := h.svc.ListInterventions(c.Request.Context(), c.Param("id"), statuses...)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interventions": recs})
}

// HandleApply handles POST /v1/interventions/:id/apply.
func (h *Handlers) HandleApply(c *gin.Context) {
	log := h.logger(c, "HandleApply")
	var req ApplyRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, log, err)
		return
	}
	res, err := h.svc.ApplyIntervention(c.Request.Context(), c.Param("id"), req.TargetPlanItemID)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleComplete handles POST /v1/interventions/:id/complete.
func (h *Handlers) HandleComplete(c *gin.Context) {
	log := h.logger(c, "HandleComplete")
	var req CompleteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, log, err)
		return
	}
	rec, err := h.svc.CompleteIntervention(c.Request.Context(), c.Param("id"), req.Effectiveness)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleDismiss handles POST /v1/interventions/:id/dismiss.
func (h *Handlers) HandleDismiss(c *gin.Context) {
	log := h.logger(c, "HandleDismiss")
	rec, err := h.svc.DismissIntervention(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandlePerformance handles GET /v1/model/performance.
func (h *Handlers) HandlePerformance(c *gin.Context) {
	log := h.logger(c, "HandlePerformance")
	m, err := h.svc.ModelPerformance(c.Request.Context())
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HandleRetrain handles POST /v1/model/retrain.
func (h *Handlers) HandleRetrain(c *gin.Context) {
	log := h.logger(c, "HandleRetrain")
	run, err := h.retrain(c.Request.Context())
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleReduction handles GET /v1/learners/:id/reduction and, without a
// learner, GET /v1/reduction.
func (h *Handlers) HandleReduction(c *gin.Context) {
	log := h.logger(c, "HandleReduction")
	var q ReductionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, log, err)
		return
	}
	m, err := h.svc.StruggleReduction(c.Request.Context(), c.Param("id"), time.Duration(q.PeriodDays)*24*time.Hour)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HandleAlerts handles GET /v1/learners/:id/alerts.
func (h *Handlers) HandleAlerts(c *gin.Context) {
	log := h.logger(c, "HandleAlerts")
	var q AlertsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, log, err)
		return
	}
	since, err := parseDate(q.Since)
	if err != nil {
		badRequest(c, log, err)
		return
	}
	alerts, err := h.svc.ListAlerts(c.Request.Context(), c.Param("id"), since, q.Limit)
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// HandleOnDemand handles POST /v1/learners/:id/objectives/:oid/refresh.
func (h *Handlers) HandleOnDemand(c *gin.Context) {
	log := h.logger(c, "HandleOnDemand")
	res, err := h.svc.OnDemand(c.Request.Context(), c.Param("id"), c.Param("oid"))
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleSessionCheck handles POST /v1/sessions/:id/check.
func (h *Handlers) HandleSessionCheck(c *gin.Context) {
	log := h.logger(c, "HandleSessionCheck")
	res, err := h.svc.CheckSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, log, err)
		return
	}
	if res.Throttled {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleOutcome handles POST /v1/outcomes.
func (h *Handlers) HandleOutcome(c *gin.Context) {
	log := h.logger(c, "HandleOutcome")
	var req OutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, log, err)
		return
	}
	res, err := h.svc.RecordOutcome(c.Request.Context(), detection.ObservedOutcome{
		LearnerID:   req.LearnerID,
		ObjectiveID: req.ObjectiveID,
		PlanItemID:  req.PlanItemID,
		Struggled:   *req.Struggled,
		At:          req.At,
	})
	if err != nil {
		abort(c, log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
