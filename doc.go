// Package caddyfile is used to lex, parse, and losslessly re-emit Caddyfile
// configuration files.
//
// A Caddyfile is a sequence of server blocks, each labeled by zero or more
// site addresses and containing directives. Directives may carry a matcher,
// arguments, and a nested block:
//
//	# main site
//	example.com, www.example.com {
//		@api path /api/*
//		reverse_proxy @api localhost:9000
//		header {
//			X-Frame-Options DENY
//		}
//	}
//
// Unlike a parser built to evaluate a Caddyfile, this package keeps every
// byte of its input. Whitespace, comments, and unrecognized constructs are
// attached to the nearest node as verbatim text, so that formatting a parsed
// File with Format reproduces the input exactly. Nothing is interpreted:
// import lines and snippets are ordinary directives and blocks, and nested
// block bodies are only decomposed into key/value pairs when doing so
// round-trips.
package caddyfile // import "go.spiff.io/caddyfile"
