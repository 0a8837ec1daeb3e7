package main

import _ "embed"

// Tray icons

//go:embed assets/icon.png
var iconData []byte

//go:embed assets/icon-connected.png
var iconDataConnected []byte

//go:embed assets/icon-inventory.png
var iconDataInventory []byte

//go:embed assets/icon-error.png
var iconDataError []byte

//go:embed assets/icon-stopped.png
var iconDataStopped []byte
