package main

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	jsoniter "github.com/json-iterator/go"

	"github.com/joynr-go/clustercontroller/accesscontrol"
	"github.com/joynr-go/clustercontroller/accessstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// server is the debug/metrics/admin HTTP surface: not the joynr wire
// transport (out of scope), just enough for an operator or a liveness
// probe to talk to this process.
type server struct {
	store     *accessstore.Store
	directory *memDirectory
	gate      *accesscontrol.Controller
	jwtSecret []byte
}

func (s *server) handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case path == "/metrics":
		s.handleMetrics(ctx)
	case len(path) >= 7 && path[:7] == "/admin/":
		if !s.authorize(ctx) {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString("unauthorized")
			return
		}
		s.handleAdmin(ctx, path[len("/admin/"):])
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// authorize verifies the bearer token's HMAC signature, matching this
// codebase's own admin-token verification shape: reject any algorithm
// other than HMAC outright, then require token.Valid.
func (s *server) authorize(ctx *fasthttp.RequestCtx) bool {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return false
	}
	tokenStr := auth[len(prefix):]

	token, err := jwt.Parse(tokenStr, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return false
	}
	return token.Valid
}

func (s *server) handleMetrics(ctx *fasthttp.RequestCtx) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		glog.Errorf("server: gather metrics: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType(string(expfmt.FmtText))
	enc := expfmt.NewEncoder(ctx.Response.BodyWriter(), expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			glog.Errorf("server: encode metric family %s: %v", mf.GetName(), err)
			return
		}
	}
}

func (s *server) handleAdmin(ctx *fasthttp.RequestCtx, sub string) {
	switch {
	case sub == "reload" && ctx.IsPost():
		if err := s.store.Load(); err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case sub == "providers" && ctx.IsPost():
		s.handleRegisterProvider(ctx)
	case len(sub) > 4 && sub[:4] == "ace/":
		s.handleACE(ctx, sub[4:])
	case len(sub) > 4 && sub[:4] == "rce/":
		s.handleRCE(ctx, sub[4:])
	case sub == "domain-role":
		s.handleDomainRole(ctx)
	case sub == "check-provider-permission" && ctx.IsPost():
		s.handleCheckProviderPermission(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func writeErr(ctx *fasthttp.RequestCtx, err error) {
	ctx.SetStatusCode(fasthttp.StatusBadRequest)
	ctx.SetBodyString(err.Error())
}
