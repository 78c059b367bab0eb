package httptransport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"vface/internal/chain"
	domainerrors "vface/pkg/domain-errors"
)

//go:generate mockgen -source=handlers_chain.go -destination=mocks/chain-mocks.go -package=mocks ChainService

func TestChainHandler_Root(t *testing.T) {
	ctrl := gomock.NewController(t)
	router, _, _, chainMock := testRouter(t, ctrl, "s3cret")

	chainMock.EXPECT().
		RootInfo(gomock.Any()).
		Return(&chain.Root{Root: "abc123", Index: 9, TotalEntries: 9}, nil).
		Times(1)

	// Chain reads are public even when the internal secret is configured.
	w := doJSON(t, router, "GET", "/chain/root", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "abc123", body["root"])
	assert.Equal(t, float64(9), body["totalEntries"])
}

func TestChainHandler_Entry(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "")

		chainMock.EXPECT().
			Entry(gomock.Any(), int64(3)).
			Return(&chain.Entry{Index: 3, Commitment: "c3", EntryHash: "h3"}, nil).
			Times(1)

		w := doJSON(t, router, "GET", "/chain/entries/3", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(3), decodeBody(t, w)["index"])
	})

	t.Run("unknown index", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "")

		chainMock.EXPECT().
			Entry(gomock.Any(), int64(99)).
			Return(nil, domainerrors.New(domainerrors.CodeNotFound, "entry 99 not found")).
			Times(1)

		w := doJSON(t, router, "GET", "/chain/entries/99", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("non-numeric index", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, _ := testRouter(t, ctrl, "")

		w := doJSON(t, router, "GET", "/chain/entries/abc", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChainHandler_Verify(t *testing.T) {
	t.Run("intact range", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "")

		chainMock.EXPECT().
			Verify(gomock.Any(), int64(2), int64(5)).
			Return(&chain.VerifyResult{Valid: true, Checked: 4}, nil).
			Times(1)

		w := doJSON(t, router, "GET", "/chain/verify?from=2&to=5", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, float64(4), body["checked"])
	})

	t.Run("broken entry surfaces its index", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "")

		chainMock.EXPECT().
			Verify(gomock.Any(), int64(0), int64(0)).
			Return(&chain.VerifyResult{Valid: false, Checked: 3, BrokenAt: 3, Error: "entry hash mismatch"}, nil).
			Times(1)

		w := doJSON(t, router, "GET", "/chain/verify", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, float64(3), body["brokenAt"])
	})

	t.Run("bad query parameter", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, _ := testRouter(t, ctrl, "")

		w := doJSON(t, router, "GET", "/chain/verify?from=-2", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChainHandler_Snapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	router, _, _, chainMock := testRouter(t, ctrl, "")

	chainMock.EXPECT().
		ExportSnapshot(gomock.Any()).
		Return(&chain.Snapshot{
			Genesis:      "gen",
			Entries:      []chain.Entry{{Index: 1}},
			Root:         "r1",
			TotalEntries: 1,
			PublicKey:    "pk",
		}, nil).
		Times(1)

	w := doJSON(t, router, "GET", "/chain/snapshot", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "pk", body["publicKey"])
	assert.Len(t, body["entries"], 1)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "s3cret")

		chainMock.EXPECT().
			RootInfo(gomock.Any()).
			Return(&chain.Root{Root: "abc", TotalEntries: 12}, nil).
			Times(1)

		w := doJSON(t, router, "GET", "/health", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("chain store down", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, _, chainMock := testRouter(t, ctrl, "")

		chainMock.EXPECT().
			RootInfo(gomock.Any()).
			Return(nil, domainerrors.New(domainerrors.CodeUnavailable, "store unreachable")).
			Times(1)

		w := doJSON(t, router, "GET", "/health", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "degraded", decodeBody(t, w)["status"])
	})
}
