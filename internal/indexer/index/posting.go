package index

// Posting records that a set has a token in its prefix, and where.
type Posting struct {
	SetID    uint32
	Position int
}

// PostingList holds postings in the order their sets were inserted.
type PostingList []Posting

// TokenEntry pairs a token id with its postings.
type TokenEntry struct {
	Token    uint32
	Postings PostingList
}

// Stats summarises the size of a PrefixIndex.
type Stats struct {
	Tokens   int `json:"tokens"`
	Postings int `json:"postings"`
	Sets     int `json:"sets"`
}
