package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayquelen/tiktoktracking/internal/store"
	"github.com/kayquelen/tiktoktracking/internal/tiktok"
)

type fakeCreds struct {
	creds map[string]*store.PixelCredential
	err   error
}

func (f *fakeCreds) Lookup(ctx context.Context, managerID string) (*store.PixelCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	cred, ok := f.creds[managerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cred, nil
}

type fakeLog struct {
	appended []*store.DeliveryOutcome
}

func (f *fakeLog) Append(ctx context.Context, o *store.DeliveryOutcome) error {
	f.appended = append(f.appended, o)
	return nil
}

type fakeSender struct {
	lastPixel string
	lastToken string
	last      tiktok.Purchase
	calls     int
	response  json.RawMessage
	err       error
}

func (f *fakeSender) SendPurchase(ctx context.Context, pixelCode, accessToken string, p tiktok.Purchase) (json.RawMessage, error) {
	f.calls++
	f.lastPixel = pixelCode
	f.lastToken = accessToken
	f.last = p
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func prodCreds() *fakeCreds {
	return &fakeCreds{creds: map[string]*store.PixelCredential{
		"prod-1": {ManagerID: "prod-1", PixelID: "PIXEL1", AccessToken: "tok_1", Active: true},
	}}
}

const checkoutBody = `{
	"id": "evt_1",
	"type": "checkout.session.completed",
	"data": {"object": {
		"amount_total": 1500,
		"currency": "brl",
		"customer_details": {"email": "a@b.com"},
		"metadata": {"utm_term": "prod-1"}
	}}
}`

func TestProcessDelivers(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{response: json.RawMessage(`{"code":0,"message":"OK"}`)}
	p := New("", "", prodCreds(), log, sender)

	res := p.Process(context.Background(), []byte(checkoutBody), "")

	assert.Equal(t, Delivered, res.Disposition)
	assert.Equal(t, "evt_1", res.EventID)
	assert.Equal(t, "prod-1", res.ManagerID)
	assert.Equal(t, "PIXEL1", res.PixelID)

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "PIXEL1", sender.lastPixel)
	assert.Equal(t, "tok_1", sender.lastToken)
	assert.Equal(t, 15.00, sender.last.Value)
	assert.Equal(t, "BRL", sender.last.Currency)
	assert.Equal(t, "a@b.com", sender.last.Email)

	require.Len(t, log.appended, 1)
	outcome := log.appended[0]
	assert.Equal(t, store.StatusSuccess, outcome.Status)
	assert.Equal(t, "evt_1", outcome.SourceEventID)
	assert.Equal(t, "checkout.session.completed", outcome.SourceEventType)
	assert.Equal(t, "PIXEL1", outcome.PixelID)
	assert.NotEmpty(t, outcome.ID)
	assert.JSONEq(t, `{"code":0,"message":"OK"}`, outcome.UpstreamResponse)
}

func TestProcessIgnoresUnhandledType(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{}
	p := New("", "", prodCreds(), log, sender)

	body := `{"id":"evt_2","type":"charge.refunded","data":{"object":{"metadata":{"utm_term":"prod-1"}}}}`
	res := p.Process(context.Background(), []byte(body), "")

	assert.Equal(t, Ignored, res.Disposition)
	assert.Zero(t, sender.calls, "ignored events must not be delivered")
	assert.Empty(t, log.appended, "ignored events must not be logged")
}

func TestProcessInvalidSignature(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{}
	p := New("whsec_secret", "", prodCreds(), log, sender)

	res := p.Process(context.Background(), []byte(checkoutBody), "t=1,v1=bogus")

	assert.Equal(t, InvalidSignature, res.Disposition)
	assert.Zero(t, sender.calls)
	assert.Empty(t, log.appended)
}

func TestProcessSkipsVerificationWithoutSecret(t *testing.T) {
	sender := &fakeSender{response: json.RawMessage(`{"code":0}`)}
	p := New("", "", prodCreds(), &fakeLog{}, sender)

	res := p.Process(context.Background(), []byte(checkoutBody), "")
	assert.Equal(t, Delivered, res.Disposition)
}

func TestProcessMalformedBody(t *testing.T) {
	p := New("", "", prodCreds(), &fakeLog{}, &fakeSender{})
	res := p.Process(context.Background(), []byte(`{"id":`), "")
	assert.Equal(t, MalformedPayload, res.Disposition)
}

func TestProcessUnknownManager(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{}
	p := New("", "", prodCreds(), log, sender)

	body := `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"amount":100,"metadata":{"utm_term":"nobody"}}}}`
	res := p.Process(context.Background(), []byte(body), "")

	assert.Equal(t, UnknownManager, res.Disposition)
	assert.Equal(t, "nobody", res.ManagerID)
	assert.Zero(t, sender.calls)
	assert.Empty(t, log.appended, "no credential resolved, no attempt to record")
}

func TestProcessMissingManagerFallsBackToDefault(t *testing.T) {
	sender := &fakeSender{response: json.RawMessage(`{"code":0}`)}
	p := New("", "prod-1", prodCreds(), &fakeLog{}, sender)

	body := `{"id":"evt_4","type":"payment_intent.succeeded","data":{"object":{"amount":100}}}`
	res := p.Process(context.Background(), []byte(body), "")

	assert.Equal(t, Delivered, res.Disposition)
	assert.Equal(t, "prod-1", res.ManagerID)
}

func TestProcessMissingManagerWithoutDefault(t *testing.T) {
	p := New("", "", prodCreds(), &fakeLog{}, &fakeSender{})

	body := `{"id":"evt_5","type":"payment_intent.succeeded","data":{"object":{"amount":100}}}`
	res := p.Process(context.Background(), []byte(body), "")

	assert.Equal(t, MissingManager, res.Disposition)
}

func TestProcessDeliveryFailureRecorded(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{err: &tiktok.UpstreamError{
		StatusCode: 200,
		Code:       40001,
		Message:    "pixel code invalid",
		Body:       []byte(`{"code":40001,"message":"pixel code invalid"}`),
	}}
	p := New("", "", prodCreds(), log, sender)

	res := p.Process(context.Background(), []byte(checkoutBody), "")

	assert.Equal(t, DeliveryFailed, res.Disposition)
	assert.Contains(t, res.Detail, "40001")

	require.Len(t, log.appended, 1)
	outcome := log.appended[0]
	assert.Equal(t, store.StatusError, outcome.Status)
	assert.Contains(t, outcome.ErrorDetail, "pixel code invalid")
	assert.JSONEq(t, `{"code":40001,"message":"pixel code invalid"}`, outcome.UpstreamResponse)
}

func TestProcessNetworkFailureRecorded(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{err: &tiktok.NetworkError{Err: errors.New("dial tcp: connection refused")}}
	p := New("", "", prodCreds(), log, sender)

	res := p.Process(context.Background(), []byte(checkoutBody), "")

	assert.Equal(t, DeliveryFailed, res.Disposition)
	require.Len(t, log.appended, 1)
	assert.Equal(t, store.StatusError, log.appended[0].Status)
	assert.Empty(t, log.appended[0].UpstreamResponse)
}

func TestProcessStoreUnavailable(t *testing.T) {
	p := New("", "", &fakeCreds{err: errors.New("pool closed")}, &fakeLog{}, &fakeSender{})
	res := p.Process(context.Background(), []byte(checkoutBody), "")
	assert.Equal(t, InternalError, res.Disposition)
}

func TestDryRun(t *testing.T) {
	log := &fakeLog{}
	sender := &fakeSender{}
	p := New("", "", prodCreds(), log, sender)

	res := p.DryRun(context.Background(), []byte(checkoutBody), "")

	assert.Equal(t, Accepted, res.Disposition)
	assert.Equal(t, "PIXEL1", res.PixelID)
	assert.Zero(t, sender.calls, "dry run must not deliver")
	assert.Empty(t, log.appended, "dry run must not log")
}
