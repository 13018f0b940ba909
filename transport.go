package datadog

import "github.com/juvenn/datadog-reporter/transports"

type (
	Transport = transports.Transport
	Request   = transports.Request
)
