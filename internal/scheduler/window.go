package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 中文说明：
// 交易时间窗口，按"当天时刻"判断；start > end 表示跨零点窗口。

type Window struct {
	start int // 当天秒数
	end   int
}

// ParseWindow 解析 "HH:MM:SS"（分/秒可省略）
func ParseWindow(start, end string) (Window, error) {
	s, err := parseDaySeconds(start)
	if err != nil {
		return Window{}, fmt.Errorf("非法窗口起点 %q: %w", start, err)
	}
	e, err := parseDaySeconds(end)
	if err != nil {
		return Window{}, fmt.Errorf("非法窗口终点 %q: %w", end, err)
	}
	return Window{start: s, end: e}, nil
}

func parseDaySeconds(v string) (int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("格式应为 HH:MM:SS")
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, err
		}
		nums[i] = n
	}
	if nums[0] < 0 || nums[0] > 23 || nums[1] < 0 || nums[1] > 59 || nums[2] < 0 || nums[2] > 59 {
		return 0, fmt.Errorf("时刻越界")
	}
	return nums[0]*3600 + nums[1]*60 + nums[2], nil
}

// Contains 判断 t 是否落在窗口内（闭区间）
func (w Window) Contains(t time.Time) bool {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	if w.start <= w.end {
		return sec >= w.start && sec <= w.end
	}
	// 跨零点
	return sec >= w.start || sec <= w.end
}

func (w Window) String() string {
	f := func(sec int) string {
		return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
	}
	return f(w.start) + "-" + f(w.end)
}
