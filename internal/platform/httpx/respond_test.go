package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
}

func TestDecodeJSON(t *testing.T) {
	var dst sample
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "acme", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme","extra":1}`))
	require.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	require.Error(t, DecodeJSON(req, &dst))

	big := `{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	require.Error(t, DecodeJSON(req, &dst))
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: bad id", ErrValidation): http.StatusBadRequest,
		ErrNotFound:                             http.StatusNotFound,
		errors.New("boom"):                      http.StatusInternalServerError,
	}
	for err, want := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, err)
		require.Equal(t, want, rr.Code)
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, want, problem.Status)
		if want == http.StatusInternalServerError {
			require.Empty(t, problem.Detail)
		}
	}
}
