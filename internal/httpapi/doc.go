// Package httpapi exposes the lifecycle operations over HTTP/JSON.
//
// Routes:
//
//	GET    /v1/owners/{owner}/kinds/{kind}           list, default first
//	POST   /v1/owners/{owner}/kinds/{kind}           create
//	GET    /v1/owners/{owner}/kinds/{kind}/default   current default
//	POST   /v1/owners/{owner}/kinds/{kind}/repair    repair the partition
//	GET    /v1/owners/{owner}/records/{id}           one record
//	PATCH  /v1/owners/{owner}/records/{id}           partial update
//	PUT    /v1/owners/{owner}/records/{id}/default   set default
//	DELETE /v1/owners/{owner}/records/{id}           delete
//	GET    /healthz
//
// The caller is identified by the X-Owner-ID header, which must match the
// owner in the path. Requests are rate limited per owner.
package httpapi
