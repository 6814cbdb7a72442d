package database

type CreateMessageParams struct {
	ListId   int
	ItemId   *int
	SenderId int
	Content  string
	ReplyId  *int
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toInts(ids []int64) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
