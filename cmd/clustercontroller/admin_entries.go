package main

import (
	"context"

	"github.com/valyala/fasthttp"

	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/cmn"
	"github.com/joynr-go/clustercontroller/messaging"
)

// handleACE dispatches POST (upsert) / DELETE (remove) against one of the
// three ACE tables named by kind ("master"/"mediator"/"owner").
func (s *server) handleACE(ctx *fasthttp.RequestCtx, kind string) {
	switch {
	case ctx.IsPost():
		var e accessstore.MasterACE
		if err := json.Unmarshal(ctx.PostBody(), &e); err != nil {
			writeErr(ctx, err)
			return
		}
		var err error
		switch kind {
		case "master":
			err = s.store.UpdateMasterACE(e)
		case "mediator":
			err = s.store.UpdateMediatorACE(e)
		case "owner":
			err = s.store.UpdateOwnerACE(accessstore.OwnerACE{
				UID: e.UID, Domain: e.Domain, InterfaceName: e.InterfaceName, Operation: e.Operation,
				RequiredTrustLevel: e.DefaultRequiredTrustLevel, ConsumerPermission: e.DefaultConsumerPermission,
			})
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case ctx.IsDelete():
		uid := string(ctx.QueryArgs().Peek("uid"))
		domain := string(ctx.QueryArgs().Peek("domain"))
		iface := string(ctx.QueryArgs().Peek("interfaceName"))
		op := string(ctx.QueryArgs().Peek("operation"))
		var err error
		switch kind {
		case "master":
			err = s.store.RemoveMasterACE(uid, domain, iface, op)
		case "mediator":
			err = s.store.RemoveMediatorACE(uid, domain, iface, op)
		case "owner":
			err = s.store.RemoveOwnerACE(uid, domain, iface, op)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
}

// handleRCE is the registration-entry analogue of handleACE. The owner
// variant's concrete struct is built from the master-shaped request body's
// defaults, matching handleACE's owner path.
func (s *server) handleRCE(ctx *fasthttp.RequestCtx, kind string) {
	switch {
	case ctx.IsPost():
		var e accessstore.MasterRCE
		if err := json.Unmarshal(ctx.PostBody(), &e); err != nil {
			writeErr(ctx, err)
			return
		}
		var err error
		switch kind {
		case "master":
			err = s.store.UpdateMasterRCE(e)
		case "mediator":
			err = s.store.UpdateMediatorRCE(e)
		case "owner":
			err = s.store.UpdateOwnerRCE(accessstore.OwnerRCE{
				UID: e.UID, Domain: e.Domain, InterfaceName: e.InterfaceName,
				RequiredTrustLevel: e.DefaultRequiredTrustLevel, ProviderPermission: e.DefaultProviderPermission,
			})
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case ctx.IsDelete():
		uid := string(ctx.QueryArgs().Peek("uid"))
		domain := string(ctx.QueryArgs().Peek("domain"))
		iface := string(ctx.QueryArgs().Peek("interfaceName"))
		var err error
		switch kind {
		case "master":
			err = s.store.RemoveMasterRCE(uid, domain, iface)
		case "mediator":
			err = s.store.RemoveMediatorRCE(uid, domain, iface)
		case "owner":
			err = s.store.RemoveOwnerRCE(uid, domain, iface)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
}

func (s *server) handleDomainRole(ctx *fasthttp.RequestCtx) {
	switch {
	case ctx.IsPost():
		var e accessstore.DomainRoleEntry
		if err := json.Unmarshal(ctx.PostBody(), &e); err != nil {
			writeErr(ctx, err)
			return
		}
		if err := s.store.UpdateDomainRole(e); err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case ctx.IsDelete():
		uid := string(ctx.QueryArgs().Peek("uid"))
		role := messaging.RoleMaster
		if string(ctx.QueryArgs().Peek("role")) == "OWNER" {
			role = messaging.RoleOwner
		}
		if err := s.store.RemoveDomainRole(uid, role); err != nil {
			writeErr(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	default:
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
	}
}

type checkProviderPermissionRequest struct {
	UID           string               `json:"uid"`
	Domain        string               `json:"domain"`
	InterfaceName string               `json:"interfaceName"`
	TrustLevel    messaging.TrustLevel `json:"trustLevel"`
}

// handleCheckProviderPermission exercises the message-level gate directly,
// without a transport in front of it, so an operator can confirm a policy
// change takes effect before any real message exercises it.
func (s *server) handleCheckProviderPermission(ctx *fasthttp.RequestCtx) {
	var req checkProviderPermissionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeErr(ctx, err)
		return
	}
	allowed, err := s.gate.HasProviderPermission(context.Background(), req.UID, req.Domain, req.InterfaceName, req.TrustLevel)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	body, _ := json.Marshal(map[string]bool{"allowed": allowed})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// handleRegisterProvider registers e under its participant id, generating
// one when the caller leaves it blank and rejecting one that is neither
// blank nor a well-formed id.
func (s *server) handleRegisterProvider(ctx *fasthttp.RequestCtx) {
	var e messaging.DiscoveryEntry
	if err := json.Unmarshal(ctx.PostBody(), &e); err != nil {
		writeErr(ctx, err)
		return
	}
	switch {
	case e.ParticipantID == "":
		e.ParticipantID = cmn.GenUUID()
	case !cmn.IsValidUUID(e.ParticipantID):
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	s.directory.Register(e)
	body, _ := json.Marshal(map[string]string{"participantId": e.ParticipantID})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
