// Package invite serves the admin invite endpoints.
//
//	POST /admin/invites          create or overwrite an invite, then notify
//	GET  /admin/invites/{email}  read an invite by exact email
//
// Both routes expect the admin guard to have run already. Requests are
// validated with go-playground/validator before anything touches the ledger;
// notification is queued after the ledger write and never changes the response.
package invite
