package main

const (
	exitCodeSuccess = 0
	exitCodeUsage   = 1
	exitCodeSetup   = 2
	exitCodeConfig  = 3

	exitCodeInterrupted = 130
)
