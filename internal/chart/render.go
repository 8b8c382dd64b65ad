package chart

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	unknown         = "未知"
	basicHeader     = "----------基本信息----------"
	palaceHeader    = "----------宫位信息----------"
	palaceSeparator = "----------"
)

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "不是"
}

// Render converts an astrolabe to the text description used in prompts.
func Render(a *Astrolabe) string {
	lines := []string{
		basicHeader,
		"命主性别：" + orUnknown(a.Gender),
		"阳历生日：" + orUnknown(a.SolarDate),
		"阴历生日：" + orUnknown(a.LunarDate),
		"八字：" + orUnknown(a.ChineseDate),
		fmt.Sprintf("生辰时辰：%s (%s)", orUnknown(a.Time), orUnknown(a.TimeRange)),
		"星座：" + orUnknown(a.Sign),
		"生肖：" + orUnknown(a.Zodiac),
		"身宫地支：" + orUnknown(a.EarthlyBranchOfBodyPalace),
		"命宫地支：" + orUnknown(a.EarthlyBranchOfSoulPalace),
		"命主星：" + orUnknown(a.Soul),
		"身主星：" + orUnknown(a.Body),
		"五行局：" + orUnknown(a.FiveElementsClass),
		palaceHeader,
	}

	palaces, ok := a.palaces()
	switch {
	case !ok:
		lines = append(lines, "宫位信息：数据格式不正确或缺失")
	case len(palaces) == 0:
		lines = append(lines, "宫位信息：暂未提供")
	default:
		for i := range palaces {
			lines = append(lines, renderPalace(&palaces[i]), palaceSeparator)
		}
	}
	return strings.Join(lines, "\n")
}

func renderPalace(p *Palace) string {
	lines := []string{
		fmt.Sprintf("宫位%d号位，宫位名称是%s。", p.Index, orUnknown(p.Name)),
		fmt.Sprintf("%s身宫，%s来因宫。", yesNo(p.IsBodyPalace), yesNo(p.IsOriginalPalace)),
		fmt.Sprintf("宫位天干为%s，宫位地支为%s。", orUnknown(p.HeavenlyStem), orUnknown(p.EarthlyBranch)),
		"主星:" + joinOr(majorStars(p.MajorStars), "无"),
	}

	if len(p.MinorStars) == 0 {
		lines = append(lines, "辅星：无")
	} else {
		lines = append(lines, "辅星："+joinOr(originStars(p.MinorStars), "无"))
	}
	lines = append(lines,
		"杂耀:"+joinOr(originStars(p.AdjectiveStars), "无"),
		fmt.Sprintf("长生 12 神:%s。", orUnknown(p.Changsheng12)),
		fmt.Sprintf("博士 12 神:%s。", orUnknown(p.Boshi12)),
		fmt.Sprintf("流年将前 12 神:%s。", orUnknown(p.Jiangqian12)),
		fmt.Sprintf("流年岁前 12 神:%s。", orUnknown(p.Suiqian12)),
	)

	if d := p.Decadal; d != nil && len(d.Range) == 2 {
		lines = append(lines, fmt.Sprintf("大限:%d,%d(运限天干为%s，运限地支为%s)。",
			d.Range[0], d.Range[1], orUnknown(d.HeavenlyStem), orUnknown(d.EarthlyBranch)))
	}
	if len(p.Ages) > 0 {
		ages := make([]string, len(p.Ages))
		for i, age := range p.Ages {
			ages[i] = strconv.Itoa(age)
		}
		lines = append(lines, "小限:"+strings.Join(ages, ","))
	}
	return strings.Join(lines, "\n")
}

func majorStars(stars []Star) []string {
	out := make([]string, 0, len(stars))
	for _, s := range stars {
		if s.Type == "tianma" {
			out = append(out, s.Name+"（本命星耀，无亮度标志）")
			continue
		}

		brightness := "无亮度标志"
		if s.Brightness != "" {
			brightness = "亮度为" + s.Brightness
		}
		var mutagen string
		switch {
		case s.Mutagen != "":
			mutagen = "，" + s.Mutagen + "四化星"
		case s.Type == "major":
			mutagen = "，无四化星"
		}

		scope := "本命"
		if s.Scope != "origin" {
			scope = s.Scope
		}
		out = append(out, fmt.Sprintf("%s（%s星耀，%s%s）", s.Name, scope, brightness, mutagen))
	}
	return out
}

func originStars(stars []Star) []string {
	out := make([]string, 0, len(stars))
	for _, s := range stars {
		out = append(out, s.Name+"（本命星耀）")
	}
	return out
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, "，")
}
