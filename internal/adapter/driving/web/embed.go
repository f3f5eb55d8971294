// Package web serves the embedded dashboard GUI.
package web

import "embed"

// StaticFS holds the embedded GUI assets (index page, JS, CSS).
//
//go:embed static/*
var StaticFS embed.FS
