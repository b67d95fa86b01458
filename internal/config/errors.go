package config

import "errors"

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrInvalid            = errors.New("invalid configuration")
	ErrTargetDirRequired  = errors.New("target directory is required")
	ErrNotDirectory       = errors.New("not a directory")
	ErrInvalidSize        = errors.New("invalid size")
	ErrInvalidDuration    = errors.New("invalid duration")
)
