package models

// MergePatch applies an RFC 7386 style merge patch to target and returns
// the result. A null value deletes the key, nested objects merge
// recursively, everything else replaces. Neither input map is mutated.
//
// Only object patches are accepted at the API boundary; this function
// assumes both arguments are objects.
func MergePatch(target, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(target)+len(patch))
	for k, v := range target {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		patchObj, patchIsObj := v.(map[string]any)
		if !patchIsObj {
			merged[k] = v
			continue
		}
		targetObj, targetIsObj := merged[k].(map[string]any)
		if !targetIsObj {
			targetObj = map[string]any{}
		}
		merged[k] = MergePatch(targetObj, patchObj)
	}
	return merged
}
