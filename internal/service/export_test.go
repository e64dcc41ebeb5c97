package service

import "github.com/jareynolds/UbeCode-sub002/internal/domain"

// HoldPage claims a page as if a transfer of kind were running.
func (s *TransferService) HoldPage(workspaceID string, page domain.Page, kind string) (func(), error) {
	return s.guard.acquire(workspaceID, page, jobKind(kind))
}
