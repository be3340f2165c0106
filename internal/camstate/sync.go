package camstate

// Synchronize joins camera descriptors with the tracker's status map.
// Output order follows the input descriptor order. Cameras absent from
// the status map report StateStopped; the displayed state is never
// carried over from a previous fetch.
//
// Pure: neither input is mutated and equal inputs yield equal outputs.
func Synchronize(cameras []Camera, statuses map[int]State) []CameraStatus {
	out := make([]CameraStatus, 0, len(cameras))
	for _, cam := range cameras {
		state, ok := statuses[cam.ID]
		if !ok {
			state = StateStopped
		}
		out = append(out, CameraStatus{Camera: cam, State: state})
	}
	return out
}
