package utils

// BuildTodosListCacheKey keys the cached list response by owner. version
// prefix lets us invalidate the whole cache by bumping it.
func BuildTodosListCacheKey(ownerID string) string {
	return "todos:list:v1:owner=" + ownerID
}
