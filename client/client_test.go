// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/companyzero/mfw/auth"
	"github.com/companyzero/mfw/events"
	"github.com/companyzero/mfw/pblite"
	"github.com/companyzero/mfw/wire"
)

// fakeServer backs every RPC endpoint a Client talks to behind one
// httptest.Server, routed by path the same way the real two hostnames
// differ only in which RPC lives where (§6.1).
type fakeServer struct {
	srv *httptest.Server

	mtx          sync.Mutex
	streamElems  [][]byte // pre-encoded LongPollingPayload elements served once, in order
	receiveCount int32

	registerPhoneRelayCount int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/relay/RegisterPhoneRelay", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fs.registerPhoneRelayCount, 1)
		body, _ := io.ReadAll(r.Body)
		var req wire.RegisterPhoneRelayRequest
		if err := pblite.UnmarshalProto(body, &req); err != nil {
			t.Errorf("decoding RegisterPhoneRelayRequest: %v", err)
		}
		resp := &wire.RegisterPhoneRelayResponse{
			Token:   []byte("paired-token"),
			Browser: &wire.DeviceTriple{UserID: 11, SourceID: 22},
		}
		out, err := pblite.MarshalProto(resp)
		if err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(out)
	})

	mux.HandleFunc("/relay/GetWebEncryptionKey", func(w http.ResponseWriter, r *http.Request) {
		resp := &wire.GetWebEncryptionKeyResponse{Key: []byte("web-enc-key")}
		out, err := pblite.MarshalProto(resp)
		if err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(out)
	})

	mux.HandleFunc("/relay/RevokeRelayPairing", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req wire.RevokeRelayPairingRequest
		if err := pblite.UnmarshalProto(body, &req); err != nil {
			t.Errorf("decoding RevokeRelayPairingRequest: %v", err)
		}
		out, err := pblite.MarshalProto(&wire.RevokeRelayPairingResponse{})
		if err != nil {
			t.Fatal(err)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(out)
	})

	mux.HandleFunc("/relay/ReceiveMessages", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fs.receiveCount, 1)
		fs.mtx.Lock()
		elems := fs.streamElems
		fs.mtx.Unlock()

		io.WriteString(w, "[[")
		for i, e := range elems {
			if i > 0 {
				io.WriteString(w, ",")
			}
			w.Write(e)
		}
		io.WriteString(w, "]]")
	})

	mux.HandleFunc("/relay/SendMessage", func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/relay/AckMessages", func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/relay/RegisterRefresh", func(w http.ResponseWriter, r *http.Request) {
		resp := &wire.RegisterRefreshResponse{Token: []byte("refreshed"), TTLMicros: int64(time.Hour / time.Microsecond)}
		out, err := pblite.Encode(resp)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(out)
	})

	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

// setStreamElements installs the fixed sequence of elements every future
// ReceiveMessages call serves (each call reopens the same fixed backlog,
// which is enough to exercise the poll loop's retry behavior in tests).
func (fs *fakeServer) setStreamElements(elems ...[]byte) {
	fs.mtx.Lock()
	fs.streamElems = elems
	fs.mtx.Unlock()
}

func (fs *fakeServer) endpoints() Endpoints {
	base := fs.srv.URL + "/relay"
	return Endpoints{
		RegisterPhoneRelay:  base + "/RegisterPhoneRelay",
		RefreshPhoneRelay:   base + "/RefreshPhoneRelay",
		GetWebEncryptionKey: base + "/GetWebEncryptionKey",
		RevokeRelayPairing:  base + "/RevokeRelayPairing",
		ReceiveMessages:     base + "/ReceiveMessages",
		SendMessage:         base + "/SendMessage",
		AckMessages:         base + "/AckMessages",
		RegisterRefresh:     base + "/RegisterRefresh",
		ReceiveGoogleHost:   base + "/ReceiveMessages",
		ReceiveDefaultHost:  base + "/ReceiveMessages",
	}
}

// newTestClient builds a Client against a fresh fakeServer. loggedIn, if
// true, seeds a token and browser device so IsLoggedIn is already true.
func newTestClient(t *testing.T, loggedIn bool, cfg func(*Config)) (*Client, *auth.State, *fakeServer) {
	t.Helper()
	fs := newFakeServer(t)

	st, err := auth.New()
	if err != nil {
		t.Fatal(err)
	}
	if loggedIn {
		st.SetToken([]byte("tok"), time.Hour)
		st.SetBrowser(auth.DeviceTriple{UserID: 1, SourceID: 2})
	}

	c := Config{
		Origin:    fs.srv.URL,
		Auth:      st,
		Endpoints: fs.endpoints(),
		Events:    events.NewBus(32),
	}
	if cfg != nil {
		cfg(&c)
	}
	cl, err := New(c)
	if err != nil {
		t.Fatal(err)
	}
	return cl, st, fs
}

func encodePayload(t *testing.T, p *wire.LongPollingPayload) []byte {
	t.Helper()
	b, err := pblite.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
