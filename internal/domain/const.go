package domain

const (
	RequesterCtxKey = "ak-requester"
)
