package domain

// AccessResult is the outcome of an access check against a stored board.
type AccessResult struct {
	Authorized bool
	IsOwner    bool
}

// CheckAccess reports whether userID may read and edit b. Public boards are
// open to every authenticated user; private boards require the owner or an
// editor.
func CheckAccess(b *Board, userID string) AccessResult {
	if b.IsPublic() {
		return AccessResult{Authorized: true}
	}

	isOwner := *b.OwnerID == userID
	return AccessResult{
		Authorized: isOwner || b.HasEditor(userID),
		IsOwner:    isOwner,
	}
}

// CanDelete reports whether userID may delete b: the owner, or anyone when the
// board has no owner.
func CanDelete(b *Board, userID string) bool {
	if b.IsPublic() {
		return true
	}
	return *b.OwnerID == userID
}

// CanManageSharing reports whether userID may change the editor list. Only the
// owner of a private board can.
func CanManageSharing(b *Board, userID string) bool {
	return !b.IsPublic() && *b.OwnerID == userID
}
