package audit

// pager tracks a 1-based page over n items. Page 0 means there is nothing
// to show. With keepOne an empty list still reports one (empty) page.
type pager struct {
	size    int
	page    int
	total   int
	keepOne bool
}

func (p *pager) reset(total int) {
	p.total = total
	if p.totalPages() > 0 {
		p.page = 1
	} else {
		p.page = 0
	}
}

func (p *pager) totalPages() int {
	n := (p.total + p.size - 1) / p.size
	if n == 0 && p.keepOne {
		return 1
	}
	return n
}

func (p *pager) isFirst() bool { return p.page <= 1 }

func (p *pager) isLast() bool { return p.page >= p.totalPages() }

func (p *pager) first() {
	if p.totalPages() > 0 {
		p.page = 1
	}
}

func (p *pager) previous() {
	if p.page > 1 {
		p.page--
	}
}

func (p *pager) next() {
	if p.page < p.totalPages() {
		p.page++
	}
}

func (p *pager) last() { p.page = p.totalPages() }

// goTo moves to page n clamped to the valid range.
func (p *pager) goTo(n int) {
	last := p.totalPages()
	switch {
	case last == 0:
		p.page = 0
	case n < 1:
		p.page = 1
	case n > last:
		p.page = last
	default:
		p.page = n
	}
}

// bounds returns the slice range of the current page.
func (p *pager) bounds() (int, int) {
	if p.page <= 0 {
		return 0, 0
	}
	start := min((p.page-1)*p.size, p.total)
	end := min(start+p.size, p.total)
	return start, end
}
