// Package logx is the project's structured logger: a thin value-type wrapper
// around zerolog with typed field helpers and a reloadable sink service.
package logx
