package main

import "errors"

var errNoRealtimeURL = errors.New("querysync: realtime.url is not configured")
