package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhblabs/settlement-backend/internal/gateway"
	"github.com/dhblabs/settlement-backend/internal/model"
	settlementService "github.com/dhblabs/settlement-backend/internal/settlement"
	"github.com/dhblabs/settlement-backend/internal/types/environments"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

type stubGateway struct {
	gateway.IGateway
	verifyErr error
}

func (g *stubGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	return g.verifyErr
}

type stubService struct {
	settlementService.ISettlement

	transitions []struct {
		SessionID string
		To        model.PaymentStatus
	}
	transitionErr error
}

func (s *stubService) TransitionPaymentStatus(ctx context.Context, sessionID string, to model.PaymentStatus) error {
	s.transitions = append(s.transitions, struct {
		SessionID string
		To        model.PaymentStatus
	}{sessionID, to})
	return s.transitionErr
}

func newRouter(gw *stubGateway, service *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(gw, service, logger.New(environments.Test))

	r := gin.New()
	r.POST("/webhook/gateway", h.HandleGatewayEvent)
	return r
}

func post(r *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleGatewayEvent_CompletedAdvancesPayment(t *testing.T) {
	service := &stubService{}
	r := newRouter(&stubGateway{}, service)

	w := post(r, `{"type":"checkout.session.completed","data":{"session_id":"cs_hook"}}`, "t=1,v1=ok")

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, service.transitions, 1)
	assert.Equal(t, "cs_hook", service.transitions[0].SessionID)
	assert.Equal(t, model.PaymentStatusSucceeded, service.transitions[0].To)
}

func TestHandleGatewayEvent_ExpiredMarksExpired(t *testing.T) {
	service := &stubService{}
	r := newRouter(&stubGateway{}, service)

	w := post(r, `{"type":"checkout.session.expired","data":{"session_id":"cs_hook"}}`, "t=1,v1=ok")

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, service.transitions, 1)
	assert.Equal(t, model.PaymentStatusExpired, service.transitions[0].To)
}

func TestHandleGatewayEvent_BadSignatureRejected(t *testing.T) {
	service := &stubService{}
	r := newRouter(&stubGateway{verifyErr: gateway.ErrInvalidWebhookSignature}, service)

	w := post(r, `{"type":"checkout.session.completed","data":{"session_id":"cs_hook"}}`, "t=1,v1=bad")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, service.transitions)
}

func TestHandleGatewayEvent_ReplayedEventAcknowledged(t *testing.T) {
	service := &stubService{transitionErr: settlementService.ErrInvalidTransition}
	r := newRouter(&stubGateway{}, service)

	// a second delivery for an already-advanced record must not 5xx, or the
	// gateway would retry forever
	w := post(r, `{"type":"checkout.session.completed","data":{"session_id":"cs_hook"}}`, "t=1,v1=ok")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGatewayEvent_UnknownTypeIgnored(t *testing.T) {
	service := &stubService{}
	r := newRouter(&stubGateway{}, service)

	w := post(r, `{"type":"charge.refunded","data":{"session_id":"cs_hook"}}`, "t=1,v1=ok")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, service.transitions)
}

func TestHandleGatewayEvent_MissingSessionRejected(t *testing.T) {
	service := &stubService{}
	r := newRouter(&stubGateway{}, service)

	w := post(r, `{"type":"checkout.session.completed","data":{}}`, "t=1,v1=ok")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, service.transitions)
}
