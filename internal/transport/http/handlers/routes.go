package handlers

import "net/http"

type Routes struct {
	Messages *MessageHandler
	Channels *ChannelHandler
	Files    *FileHandler
	// WS serves the websocket gateway; it authenticates on its own.
	WS   http.HandlerFunc
	Auth func(http.Handler) http.Handler
}

func NewMux(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()
	auth := rt.Auth

	// Public
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("GET /ws", rt.WS)
	mux.Handle("GET /uploads/files/", rt.Files.Serve())

	// Protected - History
	mux.Handle("GET /api/v1/messages/{userId}", auth(http.HandlerFunc(rt.Messages.Direct)))
	mux.Handle("GET /api/v1/channels/{id}/messages", auth(http.HandlerFunc(rt.Messages.Channel)))
	mux.Handle("POST /api/v1/messages/upload-file", auth(http.HandlerFunc(rt.Files.Upload)))

	// Protected - Channels
	mux.Handle("POST /api/v1/channels", auth(http.HandlerFunc(rt.Channels.Create)))
	mux.Handle("GET /api/v1/channels", auth(http.HandlerFunc(rt.Channels.List)))

	return mux
}
