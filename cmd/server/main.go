package main

import (
	"github.com/dhblabs/settlement-backend/internal/server"
)

// @title Settlement Backend API
// @version 1.0
// @description Fiat payment to on-chain token settlement service.
// @BasePath /api/v1
func main() {
	server.Init()
}
