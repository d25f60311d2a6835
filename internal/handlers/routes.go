package handlers

import "github.com/justinas/alice"

func (s *Server) routes() {
	base := alice.New(s.recoverPanic, s.logRequest)
	auth := base.Append(s.requireTenant)
	admin := base.Append(s.requireAdmin)

	s.router.Handle("/health", base.Then(s.Health())).Methods("GET")

	s.router.Handle("/campaigns", auth.Then(s.CreateCampaign())).Methods("POST")
	s.router.Handle("/campaigns", auth.Then(s.ListCampaigns())).Methods("GET")
	s.router.Handle("/campaigns/{id}", auth.Then(s.GetCampaign())).Methods("GET")
	s.router.Handle("/campaigns/{id}/start", auth.Then(s.StartCampaign())).Methods("POST")
	s.router.Handle("/campaigns/{id}/pause", auth.Then(s.PauseCampaign())).Methods("POST")
	s.router.Handle("/campaigns/{id}/resume", auth.Then(s.ResumeCampaign())).Methods("POST")
	s.router.Handle("/campaigns/{id}/recipients", auth.Then(s.ListRecipients())).Methods("GET")
	s.router.Handle("/campaigns/{id}/media", auth.Then(s.UploadCampaignMedia())).Methods("POST")

	s.router.Handle("/channels", auth.Then(s.CreateChannel())).Methods("POST")
	s.router.Handle("/channels", auth.Then(s.ListChannels())).Methods("GET")
	s.router.Handle("/channels/{id}/credentials", auth.Then(s.SetChannelCredentials())).Methods("PUT")
	s.router.Handle("/channels/{id}/status", auth.Then(s.SetChannelStatus())).Methods("PUT")
	s.router.Handle("/channels/{id}/preflight", auth.Then(s.PreflightChannel())).Methods("POST")

	s.router.Handle("/conversations/open", auth.Then(s.OpenConversation())).Methods("POST")
	s.router.Handle("/conversations/{id}", auth.Then(s.GetConversation())).Methods("GET")
	s.router.Handle("/conversations/{id}/window", auth.Then(s.GetWindow())).Methods("GET")
	s.router.Handle("/conversations/{id}/messages", auth.Then(s.ListMessages())).Methods("GET")
	s.router.Handle("/messages/text", auth.Then(s.SendText())).Methods("POST")
	s.router.Handle("/messages/template", auth.Then(s.SendTemplate())).Methods("POST")

	s.router.Handle("/reconcile", auth.Then(s.Reconcile())).Methods("POST")
	s.router.Handle("/events/pending", auth.Then(s.PendingEvents())).Methods("GET")

	// The provider cannot carry a tenant token, so ingress is addressed by
	// tenant id and optionally guarded by a shared secret header.
	s.router.Handle("/webhooks/provider/{tenantId}", base.Then(s.ProviderWebhook())).Methods("POST")

	adm := s.router.PathPrefix("/admin").Subrouter()
	adm.Handle("/tenants", admin.Then(s.CreateTenant())).Methods("POST")
	adm.Handle("/tenants", admin.Then(s.ListTenants())).Methods("GET")
	adm.Handle("/reconcile", admin.Then(s.AdminReconcile())).Methods("POST")
	adm.Handle("/campaigns/{id}/process", admin.Then(s.ProcessBatch())).Methods("POST")
	adm.Handle("/events/replay", admin.Then(s.ReplayEvents())).Methods("POST")
	adm.Handle("/delivery/status", admin.Then(s.DeliveryStatus())).Methods("GET")
	adm.Handle("/scheduler/status", admin.Then(s.SchedulerStatus())).Methods("GET")
}
